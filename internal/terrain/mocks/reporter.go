package mocks

import (
	"github.com/stretchr/testify/mock"
)

type Reporter struct {
	mock.Mock
}

func (_m *Reporter) ReportError(message string) {
	_m.Called(message)
}
