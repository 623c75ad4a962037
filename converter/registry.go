// Package converter maps (source, target) format pairs to the routines that
// render them. The table is fixed at construction.
package converter

import (
	"context"
	"sort"

	"docconvert/models"
)

// Converter renders job's original artifact and returns the reference of
// the stored result. Rendering failures are *models.ConversionError;
// artifact store failures are *models.StorageError.
type Converter interface {
	Convert(ctx context.Context, job *models.Job) (string, error)
}

type ConverterFunc func(ctx context.Context, job *models.Job) (string, error)

func (f ConverterFunc) Convert(ctx context.Context, job *models.Job) (string, error) {
	return f(ctx, job)
}

type Registry struct {
	converters map[Pair]Converter
}

func NewRegistry(converters map[Pair]Converter) *Registry {
	table := make(map[Pair]Converter, len(converters))
	for pair, c := range converters {
		table[pair] = c
	}
	return &Registry{converters: table}
}

// Resolve looks up the converter for the ordered pair. Unknown tags fail
// before any I/O.
func (r *Registry) Resolve(source, target string) (Converter, error) {
	src, err := ParseSourceFormat(source)
	if err != nil {
		return nil, err
	}
	tgt, err := ParseTargetFormat(target)
	if err != nil {
		return nil, err
	}
	pair := Pair{Source: src, Target: tgt}
	c, ok := r.converters[pair]
	if !ok {
		return nil, models.NewConversionError("Unsupported conversion format: %s", pair)
	}
	return c, nil
}

func (r *Registry) Convert(ctx context.Context, job *models.Job) (string, error) {
	c, err := r.Resolve(job.OriginalFormat, job.TargetFormat)
	if err != nil {
		return "", err
	}
	return c.Convert(ctx, job)
}

// Pairs lists the registered conversions in a stable order.
func (r *Registry) Pairs() []Pair {
	pairs := make([]Pair, 0, len(r.converters))
	for pair := range r.converters {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Source != pairs[j].Source {
			return pairs[i].Source < pairs[j].Source
		}
		return pairs[i].Target < pairs[j].Target
	})
	return pairs
}
