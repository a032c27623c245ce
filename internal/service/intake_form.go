// intake_form.go — поля формы приёма метаданных факса.
//
// Соответствие имён полей формы полям IntakeForm задано статической
// таблицей intakeFieldBindings, правила валидации держат те же привязки.
// Таблица проверяется при старте (ValidateFieldBindings): каждое имя
// уникально и указывает на своё поле.
package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// IntakeForm — поля, присланные поставщиком (значения без пробелов по краям).
type IntakeForm struct {
	VendorName                  string
	VendorFaxID                 string
	CalledNumber                string
	CallerNumber                string
	FaxPages                    string
	FaxReceivedTimestamp        string
	TransmissionDurationSeconds string
	TransmissionStatus          string
	VendorMetadata              string
	CallerANI                   string
	RemoteID                    string
	IsFaxPartial                string
}

// Имена полей формы.
const (
	FieldVendorName                  = "vendorName"
	FieldVendorFaxID                 = "vendorFaxId"
	FieldCalledNumber                = "calledNumber"
	FieldCallerNumber                = "callerNumber"
	FieldFaxPages                    = "faxPages"
	FieldFaxReceivedTimestamp        = "faxReceivedTimestamp"
	FieldTransmissionDurationSeconds = "transmissionDurationSeconds"
	FieldTransmissionStatus          = "transmissionStatus"
	FieldVendorMetadata              = "vendorMetadata"
	FieldCallerANI                   = "callerANI"
	FieldRemoteID                    = "remoteId"
	FieldIsFaxPartial                = "isFaxPartial"
)

// fieldBinding связывает имя поля формы с полем IntakeForm.
type fieldBinding struct {
	name string
	ref  func(*IntakeForm) *string
}

// Привязки полей. Правила валидации ссылаются на них напрямую.
var (
	bindVendorName                  = fieldBinding{FieldVendorName, func(f *IntakeForm) *string { return &f.VendorName }}
	bindVendorFaxID                 = fieldBinding{FieldVendorFaxID, func(f *IntakeForm) *string { return &f.VendorFaxID }}
	bindCalledNumber                = fieldBinding{FieldCalledNumber, func(f *IntakeForm) *string { return &f.CalledNumber }}
	bindCallerNumber                = fieldBinding{FieldCallerNumber, func(f *IntakeForm) *string { return &f.CallerNumber }}
	bindFaxPages                    = fieldBinding{FieldFaxPages, func(f *IntakeForm) *string { return &f.FaxPages }}
	bindFaxReceivedTimestamp        = fieldBinding{FieldFaxReceivedTimestamp, func(f *IntakeForm) *string { return &f.FaxReceivedTimestamp }}
	bindTransmissionDurationSeconds = fieldBinding{FieldTransmissionDurationSeconds, func(f *IntakeForm) *string { return &f.TransmissionDurationSeconds }}
	bindTransmissionStatus          = fieldBinding{FieldTransmissionStatus, func(f *IntakeForm) *string { return &f.TransmissionStatus }}
	bindVendorMetadata              = fieldBinding{FieldVendorMetadata, func(f *IntakeForm) *string { return &f.VendorMetadata }}
	bindCallerANI                   = fieldBinding{FieldCallerANI, func(f *IntakeForm) *string { return &f.CallerANI }}
	bindRemoteID                    = fieldBinding{FieldRemoteID, func(f *IntakeForm) *string { return &f.RemoteID }}
	bindIsFaxPartial                = fieldBinding{FieldIsFaxPartial, func(f *IntakeForm) *string { return &f.IsFaxPartial }}
)

var intakeFieldBindings = []fieldBinding{
	bindVendorName,
	bindVendorFaxID,
	bindCalledNumber,
	bindCallerNumber,
	bindFaxPages,
	bindFaxReceivedTimestamp,
	bindTransmissionDurationSeconds,
	bindTransmissionStatus,
	bindVendorMetadata,
	bindCallerANI,
	bindRemoteID,
	bindIsFaxPartial,
}

// ValidateFieldBindings проверяет таблицу привязок полей формы.
// Вызывается при старте приложения.
func ValidateFieldBindings() error {
	return validateBindings(intakeFieldBindings)
}

func validateBindings(bindings []fieldBinding) error {
	var probe IntakeForm
	names := make(map[string]bool, len(bindings))
	targets := make(map[*string]string, len(bindings))

	var errs []error
	for _, b := range bindings {
		if b.name == "" || b.ref == nil {
			errs = append(errs, fmt.Errorf("пустая привязка поля %q", b.name))
			continue
		}
		if names[b.name] {
			errs = append(errs, fmt.Errorf("поле формы %q привязано дважды", b.name))
		}
		names[b.name] = true

		target := b.ref(&probe)
		if other, ok := targets[target]; ok {
			errs = append(errs, fmt.Errorf("поля формы %q и %q указывают на одно поле", other, b.name))
		}
		targets[target] = b.name
	}

	for _, group := range [][]fieldBinding{requiredFields, alphaFields, digitFields} {
		for _, rb := range group {
			if !names[rb.name] {
				errs = append(errs, fmt.Errorf("правило валидации ссылается на неизвестное поле %q", rb.name))
				continue
			}
			if targets[rb.ref(&probe)] != rb.name {
				errs = append(errs, fmt.Errorf("правило валидации для %q указывает на другое поле", rb.name))
			}
		}
	}
	return errors.Join(errs...)
}

// BindIntakeForm заполняет IntakeForm из источника значений полей
// (например, r.FormValue). Значения обрезаются по краям.
// Поля, не описанные в таблице привязок, игнорируются.
func BindIntakeForm(value func(name string) string) *IntakeForm {
	form := &IntakeForm{}
	for _, b := range intakeFieldBindings {
		*b.ref(form) = strings.TrimSpace(value(b.name))
	}
	return form
}

// Partial — поставщик пометил факс как частичный.
func (f *IntakeForm) Partial() bool {
	return strings.EqualFold(f.IsFaxPartial, "true")
}

// Правила валидации, применяются по порядку. Первое нарушенное правило
// возвращается целиком, со всеми нарушившими его полями.
var (
	requiredFields = []fieldBinding{
		bindVendorName,
		bindVendorFaxID,
		bindCalledNumber,
		bindFaxPages,
		bindFaxReceivedTimestamp,
		bindTransmissionDurationSeconds,
		bindTransmissionStatus,
	}
	alphaFields = []fieldBinding{bindVendorName}
	digitFields = []fieldBinding{bindFaxPages, bindTransmissionDurationSeconds}

	alphaPattern = regexp.MustCompile(`^[a-zA-Z]+$`)
	digitPattern = regexp.MustCompile(`^[0-9]+$`)
)

// Validate проверяет форму. Возвращает *ValidationError или nil.
// Необязательные поля отсутствуют в правилах и остаются пустыми строками.
func (f *IntakeForm) Validate() error {
	rules := []struct {
		fields []fieldBinding
		kind   ValidationKind
		bad    func(string) bool
	}{
		{requiredFields, KindMissing, func(v string) bool { return v == "" }},
		{alphaFields, KindMalformed, func(v string) bool { return !alphaPattern.MatchString(v) }},
		{digitFields, KindMalformed, func(v string) bool { return !digitPattern.MatchString(v) }},
	}

	for _, rule := range rules {
		var failed []string
		for _, b := range rule.fields {
			if rule.bad(*b.ref(f)) {
				failed = append(failed, b.name)
			}
		}
		if len(failed) > 0 {
			return &ValidationError{Kind: rule.kind, Fields: failed}
		}
	}
	return nil
}
