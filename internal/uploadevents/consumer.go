// Пакет uploadevents — потребитель очереди SQS с уведомлениями S3
// о завершении загрузки файлов факсов.
//
// Доставка at-least-once: одно и то же событие может прийти повторно,
// не по порядку и пачкой. Обработчик обязан быть идемпотентным.
// Сообщение удаляется из очереди только после успешной обработки,
// иначе SQS вернёт его по истечении visibility timeout.
package uploadevents

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fi_upload_event_messages_total",
	Help: "Количество обработанных сообщений очереди событий загрузки",
}, []string{"result"}) // result: processed, failed, malformed

// SQSAPI — используемое подмножество клиента SQS.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler обрабатывает события одного сообщения.
// Ошибка означает сбой инфраструктуры: сообщение остаётся в очереди.
type Handler func(ctx context.Context, events []Event) error

// Config — параметры опроса очереди.
type Config struct {
	QueueURL          string
	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	// Workers — сколько сообщений пачки обрабатывается одновременно
	Workers int
}

// Пауза после ошибки ReceiveMessage.
const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Consumer — фоновый потребитель очереди.
type Consumer struct {
	client SQSAPI
	cfg    Config
	handle Handler
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New создаёт потребителя очереди.
func New(client SQSAPI, cfg Config, handle Handler, logger *slog.Logger) *Consumer {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
		cfg.BatchSize = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = cfg.BatchSize
	}
	return &Consumer{
		client: client,
		cfg:    cfg,
		handle: handle,
		logger: logger.With(slog.String("component", "upload_events")),
	}
}

// Start запускает фоновую горутину long polling.
// Вызывается один раз при старте приложения.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)

		c.logger.Info("Потребитель событий загрузки запущен",
			slog.String("queue_url", c.cfg.QueueURL),
			slog.Int("batch_size", c.cfg.BatchSize),
		)

		backoff := minBackoff
		for {
			if ctx.Err() != nil {
				c.logger.Info("Потребитель событий загрузки остановлен")
				return
			}

			if _, err := c.PollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.logger.Error("Ошибка получения сообщений SQS",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", backoff),
				)
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = minBackoff
		}
	}()
}

// Stop останавливает опрос и ждёт завершения текущей пачки.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

// PollOnce получает одну пачку сообщений и обрабатывает её.
// Возвращает количество полученных сообщений.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: int32(c.cfg.BatchSize),                       //nolint:gosec // G115: 1..10
		WaitTimeSeconds:     int32(c.cfg.WaitTime / time.Second),          //nolint:gosec // G115: из конфигурации
		VisibilityTimeout:   int32(c.cfg.VisibilityTimeout / time.Second), //nolint:gosec // G115: из конфигурации
	})
	if err != nil {
		return 0, err
	}
	if len(out.Messages) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, msg := range out.Messages {
		g.Go(func() error {
			c.processMessage(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	return len(out.Messages), nil
}

// processMessage обрабатывает одно сообщение и удаляет его из очереди,
// если повторная доставка не нужна.
func (c *Consumer) processMessage(ctx context.Context, msg types.Message) {
	messageID := aws.ToString(msg.MessageId)

	events, err := ParseMessage(aws.ToString(msg.Body))
	if err != nil {
		// Повторная доставка не исправит тело сообщения
		messagesTotal.WithLabelValues("malformed").Inc()
		c.logger.Warn("Некорректное сообщение удалено из очереди",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		c.deleteMessage(ctx, msg)
		return
	}

	if err := c.handle(ctx, events); err != nil {
		messagesTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("Сообщение оставлено для повторной доставки",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		return
	}

	messagesTotal.WithLabelValues("processed").Inc()
	c.deleteMessage(ctx, msg)
}

func (c *Consumer) deleteMessage(ctx context.Context, msg types.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.logger.Warn("Ошибка удаления сообщения SQS",
			slog.String("message_id", aws.ToString(msg.MessageId)),
			slog.String("error", err.Error()),
		)
	}
}
