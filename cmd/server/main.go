// Package main — точка входа сервиса наград за просмотр.
// Загружает конфигурацию, инициализирует приложение и запускает HTTP-сервер.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/app"
	"serotonyl.ru/watch-rewards/internal/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Настраиваем логирование
	setupLogging("text")

	// .env нужен только локально, в Docker переменные приходят из окружения
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Не удалось прочитать .env")
	}

	log.Info("=== Сервис запускается ===")

	// Загружаем конфигурацию из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	setupLogging(cfg.AppLogFormat)
	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}

	// Контекст с отменой для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем приложение (хранилища, сервисы, HTTP)
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Close()

	// Запускаем планировщик задач (cron)
	application.Scheduler.Start()
	defer application.Scheduler.Stop()

	// Обрабатываем сигналы остановки (Ctrl+C, docker stop)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем HTTP-сервер в отдельной горутине
	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("=== HTTP-сервер готов к работе ===")
		serverErr <- application.HTTP.Listen(cfg.HTTPAddr)
	}()

	// Ждём сигнала остановки или падения сервера
	select {
	case sig := <-quit:
		log.Infof("Получен сигнал %s, останавливаемся...", sig)
	case err := <-serverErr:
		log.WithError(err).Error("HTTP-сервер остановился")
	}

	// Дожидаемся текущих запросов, затем отменяем контекст задач
	if err := application.HTTP.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.WithError(err).Warn("HTTP-сервер остановлен не полностью")
	}
	cancel()

	log.Info("=== Сервис остановлен ===")
}

// setupLogging настраивает формат логов: text для разработки, json для сборщика логов.
func setupLogging(format string) {
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
