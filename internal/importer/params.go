package importer

import (
	"strconv"

	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
)

const (
	defaultStartPage = 1
	defaultBatchSize = 20
	maxBatchSize     = 60
)

// Params is the tuple that identifies an import run. Two runs with the same
// tuple never execute at the same time.
type Params struct {
	StartPage int `json:"start_page"`
	// MaxPages <= 0 follows next links until the catalog is exhausted.
	MaxPages  int `json:"max_pages"`
	BatchSize int `json:"batch_size"`
}

// Normalize fills defaults and rejects values the pipeline cannot honor.
func (p Params) Normalize() (Params, error) {
	if p.StartPage == 0 {
		p.StartPage = defaultStartPage
	}
	if p.StartPage < 1 {
		return p, pkgerrors.New(pkgerrors.CodeValidation, "start_page must be >= 1").
			WithDetails(map[string]any{"start_page": p.StartPage})
	}
	if p.MaxPages < 0 {
		p.MaxPages = 0
	}
	if p.BatchSize == 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.BatchSize < 1 || p.BatchSize > maxBatchSize {
		return p, pkgerrors.Newf(pkgerrors.CodeValidation, "batch_size must be between 1 and %d", maxBatchSize).
			WithDetails(map[string]any{"batch_size": p.BatchSize})
	}
	return p, nil
}

// Unlimited reports whether the run follows the catalog to the end.
func (p Params) Unlimited() bool {
	return p.MaxPages <= 0
}

// LockName is the named lock guarding this tuple.
func (p Params) LockName() string {
	return kv.Key("import", strconv.Itoa(p.StartPage), strconv.Itoa(p.MaxPages), strconv.Itoa(p.BatchSize))
}

func (p Params) cancelKey() string {
	return kv.Key("import", "cancel", strconv.Itoa(p.StartPage), strconv.Itoa(p.MaxPages), strconv.Itoa(p.BatchSize))
}

func (p Params) fields() map[string]any {
	return map[string]any{
		"start_page": p.StartPage,
		"max_pages":  p.MaxPages,
		"batch_size": p.BatchSize,
	}
}
