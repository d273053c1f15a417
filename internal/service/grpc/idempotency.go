package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// IdempotencyKeyHeader — заголовок metadata с ключом идемпотентности.
const IdempotencyKeyHeader = "idempotency-key"

const failedReplayMessage = "previous request with the same idempotency key failed"

// Исходы claim для метрик.
const (
	claimOutcomeClaimed  = "claimed"
	claimOutcomeReplayed = "replayed"
	claimOutcomeInFlight = "in_flight"
	claimOutcomeMismatch = "mismatch"
	claimOutcomeError    = "error"
)

// withIdempotency выполняет мутацию не больше одного раза на ключ и повторяет
// сохранённый результат. Без заголовка или без репозитория запрос выполняется как обычно.
func withIdempotency[T any](
	s *SalesService,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*T, error),
) (*T, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}
	key, ok := readIdempotencyKey(ctx)
	if !ok {
		return handler(ctx)
	}

	logger := s.logger.WithFields(log.Fields{"idempotency_key": key, "method": method})
	reqHash, err := hashIdempotentRequest(req)
	if err != nil {
		logger.WithError(err).Warn("failed to hash idempotent request")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.Claim(ctx, domain.IdempotencyClaim{
		Key:         key,
		Method:      method,
		RequestHash: reqHash,
		ExpiresAt:   time.Now().UTC().Add(s.idemTTL),
	})
	if err != nil {
		return replayIdempotency[T](s, logger, method, record, err)
	}
	s.metrics.RecordIdempotencyClaim(claimOutcomeClaimed)

	resp, runErr := handler(ctx)
	// результат сохраняем даже если клиент уже отключился
	storeCtx := context.WithoutCancel(ctx)
	outcome, err := idempotencyOutcome(resp, runErr)
	if err != nil {
		logger.WithError(err).Warn("failed to encode idempotent outcome")
	} else if err := s.idemRepo.Complete(storeCtx, key, outcome); err != nil {
		logger.WithError(err).Warn("failed to store idempotent outcome")
	}

	if runErr != nil {
		return nil, runErr
	}
	return resp, nil
}

func replayIdempotency[T any](s *SalesService, logger *log.Entry, method string, record domain.IdempotencyRecord, claimErr error) (*T, error) {
	switch {
	case errors.Is(claimErr, domain.ErrIdempotencyHashMismatch):
		s.metrics.RecordIdempotencyClaim(claimOutcomeMismatch)
		if record.Method != "" && record.Method != method {
			return nil, status.Errorf(codes.FailedPrecondition, "idempotency key is already used by %s", path.Base(record.Method))
		}
		return nil, status.Error(codes.FailedPrecondition, "idempotency key is already used with different request payload")

	case errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusProcessing:
			s.metrics.RecordIdempotencyClaim(claimOutcomeInFlight)
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			s.metrics.RecordIdempotencyClaim(claimOutcomeReplayed)
			return nil, decodeIdempotencyFailure(record)
		case domain.IdempotencyStatusDone:
			s.metrics.RecordIdempotencyClaim(claimOutcomeReplayed)
			resp := new(T)
			if err := json.Unmarshal(record.Response, resp); err != nil {
				logger.WithError(err).Warn("failed to decode stored idempotent response")
				return nil, status.Error(codes.Internal, "failed to decode stored idempotent response")
			}
			return resp, nil
		}
		s.metrics.RecordIdempotencyClaim(claimOutcomeError)
		return nil, status.Error(codes.Internal, "unknown idempotency record status")

	default:
		s.metrics.RecordIdempotencyClaim(claimOutcomeError)
		logger.WithError(claimErr).Warn("failed to claim idempotency key")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

// idempotencyOutcome сохраняет ответ как JSON, а ошибку как google.rpc.Status
// вместе с details.
func idempotencyOutcome(resp any, runErr error) (domain.IdempotencyOutcome, error) {
	if runErr == nil {
		body, err := json.Marshal(resp)
		if err != nil {
			return domain.IdempotencyOutcome{}, err
		}
		return domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Response: body, Code: int(codes.OK)}, nil
	}

	st := status.Convert(runErr)
	if st.Code() == codes.OK {
		st = status.New(codes.Internal, st.Message())
	}
	outcome := domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed, Code: int(st.Code())}
	body, err := protojson.Marshal(st.Proto())
	if err != nil {
		// кода достаточно для повтора ошибки без details
		return outcome, nil
	}
	outcome.Response = body
	return outcome, nil
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.Response) > 0 {
		var stored spb.Status
		if err := protojson.Unmarshal(record.Response, &stored); err == nil && stored.GetCode() != int32(codes.OK) {
			if stored.GetMessage() == "" {
				stored.Message = failedReplayMessage
			}
			return status.ErrorProto(&stored)
		}
	}

	if record.Code > int(codes.OK) && record.Code <= int(codes.Unauthenticated) {
		return status.Error(codes.Code(uint32(record.Code)), failedReplayMessage) //nolint:gosec // диапазон проверен выше
	}
	return status.Error(codes.Internal, failedReplayMessage)
}

func readIdempotencyKey(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, value := range md.Get(IdempotencyKeyHeader) {
		if key := strings.TrimSpace(value); key != "" {
			return key, true
		}
	}
	return "", false
}

// hashIdempotentRequest — sha256 от JSON запроса. Метод сравнивается отдельно.
func hashIdempotentRequest(req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
