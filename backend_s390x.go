//go:build s390x

package lirjit

import (
	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/arch/s390x"
)

func newBackend(log *logrus.Entry) arch.Backend { return s390x.New(log) }
