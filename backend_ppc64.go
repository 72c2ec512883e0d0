//go:build ppc64 || ppc64le

package lirjit

import (
	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/arch/ppc"
)

func newBackend(log *logrus.Entry) arch.Backend { return ppc.New(log) }
