package uploadevents

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Event — событие завершения загрузки объекта в хранилище.
type Event struct {
	// Key — ключ объекта (FaxID)
	Key string
	// ETag — ETag объекта из уведомления, без кавычек
	ETag string
	// Size — размер объекта в байтах
	Size int64
	// Name — тип события (ObjectCreated:Put и т.п.)
	Name string
	// Time — время события
	Time time.Time
}

// notification — тело уведомления S3, доставленного через SQS.
type notification struct {
	Records []struct {
		EventName string    `json:"eventName"`
		EventTime time.Time `json:"eventTime"`
		S3        struct {
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
				ETag string `json:"eTag"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
	// Event — "s3:TestEvent" при настройке уведомлений
	Event string `json:"Event"`
}

// ParseMessage разбирает тело сообщения SQS с уведомлением S3.
// Тестовое уведомление и уведомление без Records дают пустой список.
func ParseMessage(body string) ([]Event, error) {
	var n notification
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return nil, fmt.Errorf("разбор уведомления S3: %w", err)
	}

	events := make([]Event, 0, len(n.Records))
	for _, r := range n.Records {
		// Ключи в уведомлениях S3 URL-кодированы (пробел — '+')
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("некорректный ключ объекта %q: %w", r.S3.Object.Key, err)
		}
		events = append(events, Event{
			Key:  key,
			ETag: trimQuotes(r.S3.Object.ETag),
			Size: r.S3.Object.Size,
			Name: r.EventName,
			Time: r.EventTime,
		})
	}
	return events, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
