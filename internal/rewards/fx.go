package rewards

import (
	"github.com/smallbiznis/promptmart/internal/rewards/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rewards.service",
	fx.Provide(service.NewService),
)
