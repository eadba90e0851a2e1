package main

import (
	"context"
	"log"
	"os"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/config"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/app"
	redisSvc "github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: client <channel-id> [display-name]\n  a display name joins the channel in group mode")
	}
	channelID := os.Args[1]
	userName := ""
	if len(os.Args) >= 3 {
		userName = os.Args[2]
	}

	cfg := config.Load()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache := redisSvc.NewRedis(rdb)

	api := app.NewClient(cfg.Addr)
	client := app.NewApp(api, cache)
	client.Run(context.Background(), channelID, userName)
	client.Stop()
}
