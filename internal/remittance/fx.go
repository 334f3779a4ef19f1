package remittance

import (
	"github.com/socioscloud/remesa/internal/remittance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("remittance.service",
	fx.Provide(service.NewService),
)
