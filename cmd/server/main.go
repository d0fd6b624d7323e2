// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"med-rag-go/internal/chunker"
	"med-rag-go/internal/config"
	"med-rag-go/internal/handler"
	"med-rag-go/internal/middleware"
	"med-rag-go/internal/model"
	"med-rag-go/internal/pipeline"
	"med-rag-go/internal/repository"
	"med-rag-go/internal/service"
	"med-rag-go/internal/vectorstore"
	"med-rag-go/pkg/database"
	"med-rag-go/pkg/embedding"
	"med-rag-go/pkg/es"
	"med-rag-go/pkg/kafka"
	"med-rag-go/pkg/llm"
	"med-rag-go/pkg/log"
	"med-rag-go/pkg/storage"
	"med-rag-go/pkg/tika"
	"med-rag-go/pkg/token"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、对象存储、向量索引与消息队列
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.Document{}, &model.DocumentChunk{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Fatal("es 初始化失败", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	registryRepo := repository.NewRegistryRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	store := vectorstore.NewESStore(es.ESClient, cfg.Elasticsearch.IndexName)

	tokenCounter, err := chunker.NewTiktokenCounter(cfg.RAG.TokenModel)
	if err != nil {
		log.Fatal("初始化分词计数器失败", err)
	}
	ck := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, tokenCounter)

	embedService := service.NewEmbedService(embeddingClient)
	ingestService := service.NewIngestService(ck, embedService, store, docRepo, registryRepo, tikaClient, cfg.MinIO, cfg.Embedding)
	ragService := service.NewRAGService(embedService, store, llmClient, cfg.RAG)
	adminService := service.NewAdminService(store, docRepo, registryRepo, cfg.MinIO)

	// 6. 初始化重处理管道并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(ingestService)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 6.1 启动补种：摄取存储桶中注册表尚不知晓的对象（幂等）
	go func() {
		if _, err := ingestService.SeedFromStorage(context.Background(), "default"); err != nil {
			log.Errorf("启动补种失败: %v", err)
		}
	}()

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	ingestHandler := handler.NewIngestHandler(ingestService)
	chatHandler := handler.NewChatHandler(ragService, jwtManager)
	adminHandler := handler.NewAdminHandler(adminService)
	authHandler := handler.NewAuthHandler(jwtManager, cfg.JWT)

	r.POST("/ingest", ingestHandler.Ingest)
	r.POST("/chat", chatHandler.Chat)
	r.GET("/chat/ws/:token", chatHandler.HandleWS)
	r.POST("/auth/token", authHandler.Token)

	// 管理员路由组，需要通过 JWT 管理员授权
	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(jwtManager))
	{
		admin.GET("/health", adminHandler.Health)
		admin.GET("/storage-info", adminHandler.StorageInfo)
		admin.POST("/clear", adminHandler.Clear)
		admin.POST("/reprocess", adminHandler.Reprocess)
	}

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
