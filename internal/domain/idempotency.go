package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL — срок жизни ключа, если claim не задаёт свой.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает состояние вызова под ключом клиента.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s.Terminal()
}

// Terminal сообщает, что результат вызова сохранён.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyClaim — заявка на выполнение мутации продажи под ключом клиента.
// Method хранится отдельно от хеша, чтобы отличать повтор ключа из другого RPC.
type IdempotencyClaim struct {
	Key         string
	Method      string
	RequestHash string
	ExpiresAt   time.Time
}

// Normalize обрезает пробелы и подставляет срок жизни по умолчанию.
func (c IdempotencyClaim) Normalize(now time.Time) (IdempotencyClaim, error) {
	c.Key = strings.TrimSpace(c.Key)
	c.Method = strings.TrimSpace(c.Method)
	c.RequestHash = strings.TrimSpace(c.RequestHash)
	if c.Key == "" {
		return IdempotencyClaim{}, ErrIdempotencyKeyRequired
	}
	if c.RequestHash == "" {
		return IdempotencyClaim{}, ErrIdempotencyRequestHashRequired
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = now.Add(DefaultIdempotencyTTL)
	}
	return c, nil
}

// Record строит запись в статусе processing.
func (c IdempotencyClaim) Record(now time.Time) IdempotencyRecord {
	return IdempotencyRecord{
		Key:         c.Key,
		Method:      c.Method,
		RequestHash: c.RequestHash,
		Status:      IdempotencyStatusProcessing,
		ExpiresAt:   c.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IdempotencyOutcome — результат вызова: JSON ответа для done,
// google.rpc.Status в protojson для failed.
type IdempotencyOutcome struct {
	Status   IdempotencyStatus
	Response []byte
	Code     int
}

// IdempotencyRecord хранит состояние вызова по ключу.
type IdempotencyRecord struct {
	Key         string
	Method      string
	RequestHash string
	Status      IdempotencyStatus
	Response    []byte
	Code        int
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, что ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Resolve решает, что делать с повторным claim на существующую запись.
// nil означает, что запись истекла и её можно перезаписать.
func (r IdempotencyRecord) Resolve(claim IdempotencyClaim, now time.Time) error {
	if r.Expired(now) {
		return nil
	}
	if r.Method != claim.Method || r.RequestHash != claim.RequestHash {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Apply переводит запись в терминальный статус.
func (r *IdempotencyRecord) Apply(outcome IdempotencyOutcome, now time.Time) error {
	if !outcome.Status.Terminal() {
		return ErrIdempotencyOutcomeInvalid
	}
	r.Status = outcome.Status
	r.Response = append([]byte(nil), outcome.Response...)
	r.Code = outcome.Code
	r.UpdatedAt = now
	return nil
}
