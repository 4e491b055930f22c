/*
 * @author: sun977
 * @date: 2026.06.23
 * @description: 主程序入口
 * @func: 加载配置、初始化日志、启动调度器和HTTP服务器、等待中断信号
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vulnmaster/internal/app/master"
	"vulnmaster/internal/config"
	"vulnmaster/internal/pkg/logger"
)

func main() {
	var configPath string
	var env string
	flag.StringVar(&configPath, "config", "", "config directory path")
	flag.StringVar(&env, "env", "", "environment: development, test, production")
	flag.Parse()

	// 加载配置
	cfg := config.MustLoadConfig(configPath, env)

	// 初始化日志
	loggerManager, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// 启动配置文件监听，日志配置支持热更新
	watcher, err := config.NewConfigWatcher(configPath, env)
	if err != nil {
		log.Fatalf("Failed to create config watcher: %v", err)
	}
	watcher.AddCallback(func(oldConfig, newConfig *config.Config) error {
		return loggerManager.UpdateConfig(&newConfig.Log)
	})
	if err := watcher.Start(); err != nil {
		log.Printf("Config watcher start failed: %v", err)
	}
	defer watcher.Stop()

	// 创建应用实例
	app, err := master.NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	// 启动调度器(worker池+超时回收器)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}

	// 创建HTTP服务器
	addr := cfg.Server.GetAddress()
	server := &http.Server{
		Addr:           addr,
		Handler:        app.GetRouter().GetEngine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器的goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 先停HTTP入口，再停调度器让在途任务收尾
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := app.Stop(); err != nil {
		log.Printf("App stop error: %v", err)
	}

	fmt.Println("Server exiting")
}
