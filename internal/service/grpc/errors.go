package grpcsvc

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// ErrorDomain — домен в ErrorInfo.
const ErrorDomain = "sales"

// statusFromError переводит ошибку workflow в gRPC-статус с ErrorInfo.
// Инфраструктурные ошибки логируются, клиенту уходит общее сообщение.
func (s *SalesService) statusFromError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	}

	kind := domain.KindOf(err)
	code := codeForError(err, kind)
	message := err.Error()
	if kind == domain.KindInfrastructure {
		s.logger.WithError(err).WithField("operation", operation).Error("sales workflow failed")
		message = "internal error"
	}

	info := &errdetails.ErrorInfo{
		Reason: string(kind),
		Domain: ErrorDomain,
	}
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		info.Metadata = map[string]string{
			"product_id": stockErr.ProductID,
			"requested":  strconv.FormatInt(stockErr.Requested, 10),
			"available":  strconv.FormatInt(stockErr.Available, 10),
		}
	}

	st, detailErr := status.New(code, message).WithDetails(info)
	if detailErr != nil {
		return status.Error(code, message)
	}
	return st.Err()
}

func codeForError(err error, kind domain.Kind) codes.Code {
	switch {
	case domain.IsVersionConflict(err):
		return codes.Aborted
	case errors.Is(err, domain.ErrSaleAlreadyExists):
		return codes.AlreadyExists
	}

	switch kind {
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindDomainRule:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
