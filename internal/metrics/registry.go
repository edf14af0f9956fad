package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// reuse регистрирует collector. Если коллектор с тем же описанием уже есть в реестре
// (второй Application в одном процессе, тесты), возвращает существующий.
func reuse[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var dup prometheus.AlreadyRegisteredError
	if !errors.As(err, &dup) {
		panic(fmt.Sprintf("metrics: %v", err))
	}
	existing, ok := dup.ExistingCollector.(C)
	if !ok {
		panic(fmt.Sprintf("metrics: collector registered as %T", dup.ExistingCollector))
	}
	return existing
}
