package rebalance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/internal/models"
	"crossarb/internal/network"
)

// ResolveDepositAddress получает адрес пополнения на площадке-приёмнике
//
// Порядок попыток: (а) запрос с явным кодом сети; (б) запрос без
// подсказки с проверкой совместимости возвращённой сети; (в) создание
// адреса с явной сетью и повторный запрос, если площадка умеет.
//
// Для активов, требующих memo/tag на приёмнике, отсутствие тега в
// ответе - жёсткий отказ: перевод без memo теряет средства.
func ResolveDepositAddress(ctx context.Context, gw exchange.Gateway, norm *network.Normalizer, asset string, option *models.NetworkOption, memoRequired bool, log *zap.Logger) (*exchange.DepositAddress, error) {
	requested := option.Normalized

	check := func(addr *exchange.DepositAddress, stage string) (*exchange.DepositAddress, error) {
		returned := norm.Normalize(addr.Network)
		if !network.Compatible(requested, returned) {
			return nil, fmt.Errorf("%s: %s deposit address network %q (normalized %s) incompatible with requested %s",
				stage, asset, addr.Network, returned, requested)
		}
		if addr.Address == "" {
			return nil, fmt.Errorf("%s: empty %s deposit address", stage, asset)
		}
		if memoRequired && addr.Tag == "" {
			return nil, fmt.Errorf("%s: %s deposit address requires memo/tag but none returned", stage, asset)
		}
		return addr, nil
	}

	params := map[string]string{"network": option.DepositCode}

	// (а) явная сеть
	if addr, err := gw.FetchDepositAddress(ctx, asset, params); err == nil {
		return check(addr, "explicit network fetch")
	} else {
		log.Debug("deposit address fetch with network failed",
			zap.String("venue", gw.Name()), zap.String("asset", asset),
			zap.String("network", option.DepositCode), zap.Error(err))
	}

	// (б) без подсказки: принимаем только совместимую сеть
	if addr, err := gw.FetchDepositAddress(ctx, asset, map[string]string{}); err == nil {
		if checked, cerr := check(addr, "hintless fetch"); cerr == nil {
			return checked, nil
		} else {
			log.Debug("hintless deposit address rejected", zap.Error(cerr))
		}
	}

	// (в) создание адреса
	if gw.Has().CreateDepositAddress {
		if _, err := gw.CreateDepositAddress(ctx, asset, params); err != nil {
			return nil, fmt.Errorf("create %s deposit address on %s: %w", asset, gw.Name(), err)
		}
		addr, err := gw.FetchDepositAddress(ctx, asset, params)
		if err != nil {
			return nil, fmt.Errorf("refetch %s deposit address on %s: %w", asset, gw.Name(), err)
		}
		return check(addr, "post-create fetch")
	}

	return nil, fmt.Errorf("no %s deposit address obtainable on %s for network %s", asset, gw.Name(), requested)
}
