package service

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/go-playground/validator/v10"

	"github.com/kkkkikiki/adledger/internal/auth"
	"github.com/kkkkikiki/adledger/internal/ledger"
)

var errInternal = errors.New("internal error")

// toConnectError maps ledger errors to connect codes. Unclassified errors are
// logged and replaced so store details never reach the client.
func (s *LedgerServer) toConnectError(ctx context.Context, op string, err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return err
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%w: %v", ledger.ErrInvalidParameter, verrs))
	case errors.Is(err, ledger.ErrInvalidParameter):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrAlreadyCancelled),
		errors.Is(err, ledger.ErrAlreadyCompleted),
		errors.Is(err, ledger.ErrViewsExhausted):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ledger.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, auth.ErrNoUser):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}

	s.logger.Error(ctx, op+" failed", err)
	return connect.NewError(connect.CodeInternal, errInternal)
}
