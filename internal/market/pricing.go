// Package market turns clicks into pixel details and runs the purchase flow.
package market

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"

	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
)

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Tier is a rarity with its relative weight and list price.
type Tier struct {
	Rarity Rarity
	Weight uint64
	Price  decimal.Decimal
}

var DefaultTiers = []Tier{
	{Rarity: RarityCommon, Weight: 700, Price: decimal.NewFromInt(1)},
	{Rarity: RarityRare, Weight: 220, Price: decimal.NewFromInt(5)},
	{Rarity: RarityEpic, Weight: 70, Price: decimal.NewFromInt(25)},
	{Rarity: RarityLegendary, Weight: 10, Price: decimal.NewFromInt(100)},
}

// Pricer assigns every cell a fixed rarity derived from a hash of the seed
// and the cell, so a cell prices the same on every lookup and every node.
type Pricer struct {
	seed  uint64
	tiers []Tier
	total uint64
}

func NewPricer(seed uint64, tiers []Tier) *Pricer {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	var total uint64
	for _, t := range tiers {
		total += t.Weight
	}
	return &Pricer{seed: seed, tiers: tiers, total: total}
}

func (p *Pricer) tier(c mapdata.Cell) Tier {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], p.seed)
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(c.Col)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(int64(c.Row)))
	roll := xxhash.Sum64(buf[:]) % p.total

	for _, t := range p.tiers {
		if roll < t.Weight {
			return t
		}
		roll -= t.Weight
	}
	return p.tiers[len(p.tiers)-1]
}

func (p *Pricer) Rarity(c mapdata.Cell) Rarity {
	return p.tier(c).Rarity
}

// Price is the list price of an unsold cell.
func (p *Pricer) Price(c mapdata.Cell) (Rarity, decimal.Decimal) {
	t := p.tier(c)
	return t.Rarity, t.Price
}
