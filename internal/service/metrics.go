package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/leowu0329/authservice/pkg/errors"
)

var accountOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authservice_account_operations_total",
		Help: "Account lifecycle operations by outcome. Failed outcomes carry the error code.",
	},
	[]string{"operation", "outcome"},
)

func observe(operation string, err error) {
	accountOperations.WithLabelValues(operation, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}
