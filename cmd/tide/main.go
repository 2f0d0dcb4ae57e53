package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tide/internal/app"
	tidecfg "tide/internal/config"
	"tide/internal/logger"
)

func main() {
	cfgDefault := os.Getenv("TIDE_CONFIG")
	if cfgDefault == "" {
		cfgDefault = "configs/config.yaml"
	}
	var (
		cfgPath = flag.String("config", cfgDefault, "配置文件路径")
		profile = flag.String("profile", "", "按档案名执行单次回测（留空用 default 档案）")
		serve   = flag.Bool("serve", false, "以 HTTP 服务方式长驻运行")
		online  = flag.Bool("online", false, "按档案以在线模式长驻运行")
		logPath = flag.String("log", "", "日志文件路径（留空只打 stdout）")
	)
	flag.Parse()

	cfg, err := tidecfg.Load(*cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(*logPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.Log.Level)
	logger.Infof("✓ 配置加载成功（source=%s，profiles=%s）", cfg.Data.Source, cfg.Profile)

	if *serve {
		cfg.Server.Enabled = true
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		if err := a.Serve(ctx); err != nil {
			log.Fatalf("运行失败: %v", err)
		}
		return
	}

	if *online {
		if _, err := a.RunOnlineProfile(ctx, *profile); err != nil {
			log.Fatalf("在线运行失败: %v", err)
		}
		return
	}

	if _, err := a.RunProfile(ctx, *profile); err != nil {
		log.Fatalf("回测失败: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
