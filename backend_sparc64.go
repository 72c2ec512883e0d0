//go:build sparc64

package lirjit

import (
	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/arch/sparc"
)

func newBackend(log *logrus.Entry) arch.Backend { return sparc.New(log) }
