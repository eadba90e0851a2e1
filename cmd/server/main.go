package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/config"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/registry"
	keyRepo "github.com/AhmedAmineBejaoui/chat-e2ee/internal/repository/key"
	linkRepo "github.com/AhmedAmineBejaoui/chat-e2ee/internal/repository/link"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/presence"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/relay"
	redisSvc "github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/redis"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/server"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/validator"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	mongoClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect to mongo failed", zap.Error(err))
	}
	db := mongoClient.Database(cfg.MongoDB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache := redisSvc.NewRedis(rdb)

	links := linkRepo.NewLinkRepo(db)
	keys := keyRepo.NewKeyRepo(db)

	reg := registry.New()
	channelValidator := validator.New(links, cache)
	relaySvc := relay.New(reg, channelValidator, keys)
	presenceSvc := presence.New(reg, channelValidator, keys)

	srv := server.NewHttpServer(cfg.Addr, cfg.AllowedOrigins, reg, presenceSvc, relaySvc)

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Info("shutting down")
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
