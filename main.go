package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	config "github.com/saccosmart/saccosmart-go/config"
	controllers "github.com/saccosmart/saccosmart-go/controllers"
	routes "github.com/saccosmart/saccosmart-go/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	cfg.Settlements.Notifier = controllers.SettlementNotifier(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cfg.Sweeper.Run(ctx)

	r := gin.Default()
	routes.SetupRoutes(r, cfg)

	log.Printf("saccosmart api listening on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
