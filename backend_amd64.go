//go:build amd64

package lirjit

import (
	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/arch/x86"
)

func newBackend(log *logrus.Entry) arch.Backend { return x86.New(log) }
