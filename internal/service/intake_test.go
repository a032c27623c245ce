package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/danussh/Faxing/internal/repository"
)

func TestIntakeService_Submit(t *testing.T) {
	p := newPipeline()
	form := validForm()
	form.IsFaxPartial = "true"

	res, err := p.intake.Submit(context.Background(), form, "s3cret")
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}
	if _, err := uuid.Parse(res.FaxID); err != nil {
		t.Errorf("FaxID = %q, ожидается UUID", res.FaxID)
	}
	if !strings.HasSuffix(res.UploadURL, "/"+res.FaxID) {
		t.Errorf("UploadURL = %q, ожидается ключ = FaxID", res.UploadURL)
	}

	rec := p.faxes.get(res.FaxID)
	if rec == nil {
		t.Fatal("запись не сохранена")
	}
	if rec.Filename != res.FaxID+".tif" {
		t.Errorf("Filename = %q", rec.Filename)
	}
	if rec.GoodPageCount != 3 || rec.BadPageCount != 1 || !rec.Partial {
		t.Errorf("страницы = %d/%d partial=%v", rec.GoodPageCount, rec.BadPageCount, rec.Partial)
	}
	if rec.FromNumber != "6175550100" || rec.ToNumber != "6175550199" {
		t.Errorf("номера = %s → %s", rec.FromNumber, rec.ToNumber)
	}

	upload := p.objects.uploads[0]
	if upload.metadata["faxid"] != res.FaxID || upload.metadata["vendorfaxid"] != "acme-001" || upload.metadata["vendorname"] != "Acme" {
		t.Errorf("метаданные загрузки = %v", upload.metadata)
	}
}

func TestIntakeService_Submit_Idempotent(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	first, err := p.intake.Submit(ctx, validForm(), "s3cret")
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}
	second, err := p.intake.Submit(ctx, validForm(), "s3cret")
	if err != nil {
		t.Fatalf("повторный Submit() вернул ошибку: %v", err)
	}

	if first.FaxID != second.FaxID {
		t.Errorf("FaxID = %s и %s, ожидается один и тот же", first.FaxID, second.FaxID)
	}
	if len(p.faxes.records) != 1 {
		t.Errorf("записей = %d, ожидается 1", len(p.faxes.records))
	}
	if rec := p.faxes.get(first.FaxID); rec.RetryCount != 1 {
		t.Errorf("RetryCount = %d, ожидается 1", rec.RetryCount)
	}
	// URL выдаётся для сохранённой записи
	if !strings.HasSuffix(second.UploadURL, "/"+first.FaxID) {
		t.Errorf("UploadURL = %q, ожидается ключ %s", second.UploadURL, first.FaxID)
	}
}

func TestIntakeService_Submit_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *pipeline)
		modify  func(f *IntakeForm)
		secret  string
		wantErr error
	}{
		{
			name:    "неверный секрет",
			secret:  "wrong",
			wantErr: ErrUnauthorized,
		},
		{
			name:    "секрет другого поставщика",
			secret:  "g10bex",
			wantErr: ErrUnauthorized,
		},
		{
			name:    "авторизация проверяется до валидации",
			modify:  func(f *IntakeForm) { f.FaxPages = "abc" },
			secret:  "wrong",
			wantErr: ErrUnauthorized,
		},
		{
			name:    "нечисловое количество страниц",
			modify:  func(f *IntakeForm) { f.FaxPages = "abc" },
			secret:  "s3cret",
			wantErr: ErrValidation,
		},
		{
			name: "поставщик не зарегистрирован",
			setup: func(p *pipeline) {
				p.params.lists[paramSecrets] = append(p.params.lists[paramSecrets], "initech:x")
			},
			modify:  func(f *IntakeForm) { f.VendorName = "Initech" },
			secret:  "x",
			wantErr: ErrVendorNotRegistered,
		},
		{
			name: "база отклонила время получения",
			setup: func(p *pipeline) {
				p.faxes.registerErr = repository.ErrInvalidInput
			},
			secret:  "s3cret",
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline()
			if tt.setup != nil {
				tt.setup(p)
			}
			form := validForm()
			if tt.modify != nil {
				tt.modify(form)
			}

			_, err := p.intake.Submit(context.Background(), form, tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit() = %v, ожидается %v", err, tt.wantErr)
			}
			if len(p.objects.uploads) != 0 {
				t.Error("URL загрузки не должен выдаваться при ошибке")
			}
		})
	}
}

func TestIntakeService_Submit_VendorNameCaseInsensitive(t *testing.T) {
	p := newPipeline()
	form := validForm()
	form.VendorName = "ACME"

	if _, err := p.intake.Submit(context.Background(), form, "s3cret"); err != nil {
		t.Errorf("Submit() = %v, ожидается успех", err)
	}
}

func TestIntakeService_Submit_InternalErrors(t *testing.T) {
	internal := errors.New("ssm недоступен")

	p := newPipeline()
	p.params.err = internal
	_, err := p.intake.Submit(context.Background(), validForm(), "s3cret")
	if !errors.Is(err, internal) || errors.Is(err, ErrUnauthorized) {
		t.Errorf("Submit() = %v, ожидается внутренняя ошибка", err)
	}

	p = newPipeline()
	p.objects.urlErr = errors.New("presign failed")
	_, err = p.intake.Submit(context.Background(), validForm(), "s3cret")
	if err == nil || errors.Is(err, ErrValidation) {
		t.Errorf("Submit() = %v, ожидается внутренняя ошибка", err)
	}
}
