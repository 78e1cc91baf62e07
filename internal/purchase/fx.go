package purchase

import (
	"github.com/smallbiznis/promptmart/internal/purchase/repository"
	"github.com/smallbiznis/promptmart/internal/purchase/service"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
