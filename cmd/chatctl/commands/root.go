package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/config"
	linkRepo "github.com/AhmedAmineBejaoui/chat-e2ee/internal/repository/link"
	redisSvc "github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/redis"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/validator"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	links     *linkRepo.LinkRepo
	linkCheck *validator.Validator
)

func Execute() error {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Manage chat channel links",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
			if err != nil {
				return err
			}
			if err := client.Ping(ctx, nil); err != nil {
				return err
			}
			db := client.Database(cfg.MongoDB)

			rdb := goredis.NewClient(&goredis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})

			links = linkRepo.NewLinkRepo(db)
			linkCheck = validator.New(links, redisSvc.NewRedis(rdb))
			return nil
		},
	}

	root.AddCommand(createCmd(), deleteCmd(), infoCmd())
	return root.Execute()
}
