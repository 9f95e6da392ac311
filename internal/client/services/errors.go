package services

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/common"
)

var (
	ErrNoSession      = errors.New("not signed in")
	ErrRecordNotFound = fmt.Errorf("record %w", common.ErrorNotFound)
	ErrNotConfirmed   = errors.New("record is not confirmed yet")
	ErrNotAbandonable = errors.New("record was already sent to the remote store")
	ErrRecordRejected = errors.New("record was rejected by the remote store")
)
