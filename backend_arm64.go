//go:build arm64

package lirjit

import (
	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/arch/arm64"
)

func newBackend(log *logrus.Entry) arch.Backend { return arm64.New(log) }
