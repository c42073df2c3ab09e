package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	IngestedPosts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingested_posts_total",
		Help: "Новые посты, сохранённые коллектором",
	})
	IngestBaselines = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_baselines_total",
		Help: "Каналы, для которых выставлен стартовый курсор",
	})
	CollectorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_errors_total",
		Help: "Ошибки при сборе каналов",
	})
	CollectorCycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_cycle_seconds",
		Help:    "Длительность одного прохода коллектора",
		Buckets: prometheus.DefBuckets,
	})
	DeliveredPosts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivered_posts_total",
		Help: "Посты, доставленные получателям",
	})
	SpamSkippedPosts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spam_skipped_posts_total",
		Help: "Посты, пропущенные спам-фильтром",
	})
	FeedSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_send_errors_total",
		Help: "Ошибки отправки постов ленты",
	})
	ShortFeedFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "short_feed_fallbacks_total",
		Help: "Сокращения текста, выполненные локально после ошибки LLM",
	})
	MediaSweptFiles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "media_swept_files_total",
		Help: "Удалённые по сроку хранения медиафайлы",
	})
	VIPExtensions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vip_extensions_total",
		Help: "Продления VIP по источникам",
	}, []string{"source"})
	Payments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Платёжные намерения по способу и статусу",
	}, []string{"method", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		IngestedPosts,
		IngestBaselines,
		CollectorErrors,
		CollectorCycleSeconds,
		DeliveredPosts,
		SpamSkippedPosts,
		FeedSendErrors,
		ShortFeedFallbacks,
		MediaSweptFiles,
		VIPExtensions,
		Payments,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics и останавливает его при отмене ctx.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: не удалось корректно остановить сервер")
		}
	}()

	go func() {
		defer close(stopped)
		logger.Info().Str("addr", addr).Msg("metrics: сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: сервер остановлен")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	labels := []string{orUnknown(component), orUnknown(operation), orUnknown(target), status}
	NetworkRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(labels...).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	model = orUnknown(model)
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
