package sync

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

// Error classes recorded in SyncState.LastErrorClass.
const (
	ClassConfig   = "config"
	ClassAuth     = "auth"
	ClassProtocol = "protocol"
	ClassNetwork  = "network"
	ClassNotFound = "not_found"
	ClassStore    = "store"
	ClassCanceled = "canceled"
	ClassUnknown  = "unknown"
)

func errorClass(err error) string {
	var (
		storeErr *StoreError
		netErr   net.Error
	)
	switch {
	case err == nil:
		return ""
	case model.IsConfigError(err):
		return ClassConfig
	case source.IsAuthError(err):
		return ClassAuth
	case errors.As(err, &storeErr):
		return ClassStore
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, source.ErrNotFound):
		return ClassNotFound
	case errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, source.ErrNotConnected):
		return ClassNetwork
	case source.IsProtocolError(err):
		return ClassProtocol
	default:
		return ClassUnknown
	}
}
