package ml

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Backend is a regression model over a dense feature matrix.
type Backend interface {
	Name() string
	Fit(X *mat.Dense, y []float64) error
	Predict(X *mat.Dense) ([]float64, error)
}

var ErrNoBackend = errors.New("no model backend available")

// Registry maps backend names to constructors. Select picks the first
// registered name in preference order, so optional backends can be
// registered by the binary that links them.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Backend
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Backend)}
}

// DefaultRegistry has the built-in linear backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(LinearName, func() Backend { return NewLinearBackend(defaultRidge) })
	return r
}

func (r *Registry) Register(name string, factory func() Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Select(preference ...string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range preference {
		if f, ok := r.factories[name]; ok {
			return f(), nil
		}
	}
	return nil, fmt.Errorf("%w: tried %v", ErrNoBackend, preference)
}

const (
	LinearName   = "linear"
	defaultRidge = 1e-6
)

// LinearBackend is least squares on standardized columns with a small
// ridge term, so constant or collinear columns do not make the normal
// equations singular.
type LinearBackend struct {
	lambda    float64
	mean, std []float64
	coef      *mat.VecDense
	intercept float64
}

func NewLinearBackend(lambda float64) *LinearBackend {
	return &LinearBackend{lambda: lambda}
}

func (b *LinearBackend) Name() string { return LinearName }

func (b *LinearBackend) Fit(X *mat.Dense, y []float64) error {
	rows, cols := X.Dims()
	if rows != len(y) {
		return fmt.Errorf("linear fit: %d rows but %d targets", rows, len(y))
	}
	if rows == 0 {
		return errors.New("linear fit: no rows")
	}

	b.mean = make([]float64, cols)
	b.std = make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, X)
		m, s := stat.PopMeanStdDev(col, nil)
		if s == 0 {
			s = 1
		}
		b.mean[j], b.std[j] = m, s
	}
	Z := b.standardize(X)

	b.intercept = stat.Mean(y, nil)
	yc := make([]float64, rows)
	for i, v := range y {
		yc[i] = v - b.intercept
	}

	var gram mat.SymDense
	gram.SymOuterK(1, Z.T())
	for j := 0; j < cols; j++ {
		gram.SetSym(j, j, gram.At(j, j)+b.lambda*float64(rows))
	}
	var zty mat.VecDense
	zty.MulVec(Z.T(), mat.NewVecDense(rows, yc))

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return errors.New("linear fit: normal equations not positive definite")
	}
	b.coef = mat.NewVecDense(cols, nil)
	if err := chol.SolveVecTo(b.coef, &zty); err != nil {
		return fmt.Errorf("linear fit: %w", err)
	}
	return nil
}

func (b *LinearBackend) Predict(X *mat.Dense) ([]float64, error) {
	if b.coef == nil {
		return nil, errors.New("linear predict: model not fitted")
	}
	rows, cols := X.Dims()
	if cols != b.coef.Len() {
		return nil, fmt.Errorf("linear predict: %d columns, fitted on %d", cols, b.coef.Len())
	}
	var out mat.VecDense
	out.MulVec(b.standardize(X), b.coef)
	preds := make([]float64, rows)
	for i := range preds {
		preds[i] = out.AtVec(i) + b.intercept
	}
	return preds, nil
}

func (b *LinearBackend) standardize(X *mat.Dense) *mat.Dense {
	var Z mat.Dense
	Z.Apply(func(_, j int, v float64) float64 {
		return (v - b.mean[j]) / b.std[j]
	}, X)
	return &Z
}
