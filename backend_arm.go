//go:build arm

package lirjit

import (
	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/arch/arm"
)

func newBackend(log *logrus.Entry) arch.Backend { return arm.New(log) }
