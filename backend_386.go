//go:build 386

package lirjit

import (
	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/arch/x86_32"
)

func newBackend(log *logrus.Entry) arch.Backend { return x86_32.New(log) }
