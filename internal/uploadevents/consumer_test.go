package uploadevents

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockSQS — SQSAPI для тестов.
type mockSQS struct {
	mu          sync.Mutex
	receiveFn   func(in *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	deleted     []string
	lastReceive *sqs.ReceiveMessageInput
}

func (m *mockSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	m.lastReceive = in
	m.mu.Unlock()
	return m.receiveFn(in)
}

func (m *mockSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) deletedHandles() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]bool, len(m.deleted))
	for _, h := range m.deleted {
		result[h] = true
	}
	return result
}

func message(id, body string) types.Message {
	return types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

const uploadBody = `{"Records":[{"eventName":"ObjectCreated:Put","eventTime":"2024-01-15T15:30:00.000Z",
"s3":{"object":{"key":"0b8f3f8e-3a55-4d9e-9a61-1f2d0c7f2a10","size":2048,"eTag":"d41d8cd98f00b204e9800998ecf8427e"}}}]}`

func TestParseMessage(t *testing.T) {
	events, err := ParseMessage(uploadBody)
	if err != nil {
		t.Fatalf("ParseMessage() вернул ошибку: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, ожидается 1", len(events))
	}
	ev := events[0]
	if ev.Key != "0b8f3f8e-3a55-4d9e-9a61-1f2d0c7f2a10" {
		t.Errorf("Key = %s", ev.Key)
	}
	if ev.ETag != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("ETag = %s", ev.ETag)
	}
	if ev.Size != 2048 || ev.Name != "ObjectCreated:Put" {
		t.Errorf("Size/Name = %d/%s", ev.Size, ev.Name)
	}
	if !ev.Time.Equal(time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC)) {
		t.Errorf("Time = %v", ev.Time)
	}
}

func TestParseMessage_Variants(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantKey string
		wantLen int
		wantErr bool
	}{
		{name: "тестовое событие", body: `{"Service":"Amazon S3","Event":"s3:TestEvent"}`, wantLen: 0},
		{name: "экранированный ключ", body: `{"Records":[{"s3":{"object":{"key":"fax+one%2F2"}}}]}`, wantLen: 1, wantKey: "fax one/2"},
		{name: "ETag в кавычках", body: `{"Records":[{"s3":{"object":{"key":"k","eTag":"\"abc\""}}}]}`, wantLen: 1, wantKey: "k"},
		{name: "не JSON", body: `not json`, wantErr: true},
		{name: "битый ключ", body: `{"Records":[{"s3":{"object":{"key":"%zz"}}}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := ParseMessage(tt.body)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ожидалась ошибка")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMessage() вернул ошибку: %v", err)
			}
			if len(events) != tt.wantLen {
				t.Fatalf("len(events) = %d, ожидается %d", len(events), tt.wantLen)
			}
			if tt.wantLen > 0 && events[0].Key != tt.wantKey {
				t.Errorf("Key = %q, ожидается %q", events[0].Key, tt.wantKey)
			}
			if tt.name == "ETag в кавычках" && events[0].ETag != "abc" {
				t.Errorf("ETag = %q, ожидается abc", events[0].ETag)
			}
		})
	}
}

func TestConsumer_PollOnce(t *testing.T) {
	client := &mockSQS{receiveFn: func(*sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
		return &sqs.ReceiveMessageOutput{Messages: []types.Message{
			message("ok", uploadBody),
			message("infra", `{"Records":[{"s3":{"object":{"key":"retry-me"}}}]}`),
			message("bad", `garbage`),
		}}, nil
	}}

	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, events []Event) error {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			handled = append(handled, ev.Key)
			if ev.Key == "retry-me" {
				return errors.New("база недоступна")
			}
		}
		return nil
	}

	c := New(client, Config{
		QueueURL:          "https://sqs/queue",
		BatchSize:         10,
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 30 * time.Second,
		Workers:           2,
	}, handler, testLogger())

	n, err := c.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() вернул ошибку: %v", err)
	}
	if n != 3 {
		t.Errorf("PollOnce() = %d, ожидается 3", n)
	}
	if len(handled) != 2 {
		t.Errorf("обработано %d событий, ожидается 2", len(handled))
	}

	deleted := client.deletedHandles()
	if !deleted["rh-ok"] {
		t.Error("успешно обработанное сообщение не удалено")
	}
	if !deleted["rh-bad"] {
		t.Error("некорректное сообщение не удалено")
	}
	if deleted["rh-infra"] {
		t.Error("сообщение с ошибкой инфраструктуры не должно удаляться")
	}

	in := client.lastReceive
	if in.MaxNumberOfMessages != 10 || in.WaitTimeSeconds != 20 || in.VisibilityTimeout != 30 {
		t.Errorf("ReceiveMessageInput = %d/%d/%d", in.MaxNumberOfMessages, in.WaitTimeSeconds, in.VisibilityTimeout)
	}
	if aws.ToString(in.QueueUrl) != "https://sqs/queue" {
		t.Errorf("QueueUrl = %s", aws.ToString(in.QueueUrl))
	}
}

func TestConsumer_StartStop(t *testing.T) {
	polled := make(chan struct{}, 1)
	client := &mockSQS{receiveFn: func(*sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
		select {
		case polled <- struct{}{}:
		default:
		}
		time.Sleep(5 * time.Millisecond)
		return &sqs.ReceiveMessageOutput{}, nil
	}}

	c := New(client, Config{QueueURL: "q"}, func(context.Context, []Event) error { return nil }, testLogger())
	c.Start(context.Background())

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("потребитель не опросил очередь")
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() не завершился")
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(&mockSQS{}, Config{BatchSize: 50}, nil, testLogger())
	if c.cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, ожидается 10", c.cfg.BatchSize)
	}
	if c.cfg.Workers != 10 {
		t.Errorf("Workers = %d, ожидается 10", c.cfg.Workers)
	}
}
