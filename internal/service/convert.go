package service

import (
	adledgerv1 "github.com/kkkkikiki/adledger/internal/api/adledgerv1"
	"github.com/kkkkikiki/adledger/internal/model"
)

func toOrder(o model.Order) adledgerv1.Order {
	return adledgerv1.Order{
		ID:              o.ID,
		ChannelID:       o.ChannelID,
		ChannelName:     o.ChannelName,
		OrderName:       o.OrderName,
		SPM:             o.SPM,
		Budget:          o.Budget,
		TotalViews:      o.TotalViews,
		ShownViews:      o.ShownViews,
		RemainingViews:  o.RemainingViews,
		MaxViewsPerUser: o.MaxViewsPerUser,
		State:           string(o.State),
		IsActive:        o.IsActive(),
		Completed:       o.Completed(),
		Cancelled:       o.Cancelled(),
		RefundPreview:   o.RefundPreview(),
		Tags:            nonNil(o.Tags),
		ChannelTags:     nonNil(o.ChannelTags),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toOrders(orders []model.Order) []adledgerv1.Order {
	out := make([]adledgerv1.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrder(o))
	}
	return out
}

func toChannel(c model.Channel) adledgerv1.Channel {
	return adledgerv1.Channel{
		ChannelID:   c.ChannelID,
		ChannelName: c.ChannelName,
		Tags:        nonNil(c.Tags),
	}
}

func toEntries(entries []model.LedgerEntry) []adledgerv1.LedgerEntry {
	out := make([]adledgerv1.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, adledgerv1.LedgerEntry{
			ID:           e.ID,
			Kind:         string(e.Kind),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			OrderID:      e.OrderID,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
