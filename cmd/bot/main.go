// Package main 是 Telegram 机器人的入口点，它是后端 /chat 接口的瘦客户端。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"med-rag-go/internal/config"
	"med-rag-go/internal/model"
	"med-rag-go/pkg/log"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const startMessage = "Hi! I'm your medical assistant bot.\n\n" +
	"Send me any health question and I'll answer it based on the uploaded medical documents.\n\n" +
	"Commands:\n" +
	"/start - show this message\n" +
	"/help - usage help\n" +
	"/persona <doctor|specialist|nurse> - switch the answering persona"

const helpMessage = "Just type your medical question as a plain message.\n" +
	"Answers grounded in uploaded documents include source citations.\n" +
	"Use /persona to change how I answer (doctor, specialist or nurse)."

// chatClient 封装对后端 /chat 接口的调用。
type chatClient struct {
	backendURL string
	client     *http.Client
}

func (c *chatClient) ask(query, persona, namespace string) (*model.ChatAnswer, error) {
	reqBody, err := json.Marshal(model.ChatRequest{
		Query:     query,
		Persona:   persona,
		Namespace: namespace,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Post(c.backendURL+"/chat", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("调用后端失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("后端返回非 200 状态码: %s", resp.Status)
	}

	var answer model.ChatAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("解析后端响应失败: %w", err)
	}
	return &answer, nil
}

// formatAnswer 将回答与引用列表渲染为一条 Telegram 消息。
func formatAnswer(answer *model.ChatAnswer) string {
	var b strings.Builder
	b.WriteString(answer.Answer)

	if len(answer.Sources) > 0 {
		b.WriteString("\n\n📚 Sources:\n")
		for _, src := range answer.Sources {
			b.WriteString(fmt.Sprintf("%s %s (chunk %d, relevance %.3f)\n",
				src.Citation, src.Filename, src.ChunkID, src.RelevanceScore))
		}
	}
	if answer.FallbackUsed {
		b.WriteString("\n⚠️ This answer is not grounded in your uploaded documents.")
	}
	return b.String()
}

func main() {
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.Fatal("初始化 Telegram 机器人失败", err)
	}
	log.Infof("Telegram 机器人已登录: %s", bot.Self.UserName)

	client := &chatClient{
		backendURL: cfg.Bot.BackendURL,
		client:     &http.Client{Timeout: 60 * time.Second},
	}

	// 每个聊天会话独立的角色选择
	personas := map[int64]string{}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	for update := range bot.GetUpdatesChan(u) {
		if update.Message == nil || update.Message.Text == "" {
			continue
		}

		chatID := update.Message.Chat.ID
		text := update.Message.Text

		switch {
		case update.Message.IsCommand():
			switch update.Message.Command() {
			case "start":
				reply(bot, chatID, startMessage)
			case "help":
				reply(bot, chatID, helpMessage)
			case "persona":
				arg := strings.TrimSpace(update.Message.CommandArguments())
				p := model.ParsePersona(arg)
				personas[chatID] = string(p)
				reply(bot, chatID, fmt.Sprintf("Persona set to %s.", p))
			default:
				reply(bot, chatID, "Unknown command. Try /help.")
			}

		default:
			// 普通文本按问答处理；每个聊天会话使用独立的命名空间
			typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
			_, _ = bot.Request(typing)

			namespace := fmt.Sprintf("tg-%d", chatID)
			answer, err := client.ask(text, personas[chatID], namespace)
			if err != nil {
				log.Errorf("问答请求失败: chat=%d: %v", chatID, err)
				reply(bot, chatID, "Sorry, the service is temporarily unavailable. Please try again later.")
				continue
			}
			reply(bot, chatID, formatAnswer(answer))
		}
	}
}

func reply(bot *tgbotapi.BotAPI, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := bot.Send(msg); err != nil {
		log.Errorf("发送 Telegram 消息失败: chat=%d: %v", chatID, err)
	}
}
