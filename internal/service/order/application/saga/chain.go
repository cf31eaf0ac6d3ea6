package saga

// NewCreateOrderChain 组装创建订单的责任链：落库 → 发布 → 扣库存
func NewCreateOrderChain() Handler {
	chain := new(PersistOrderHandler)
	chain.SetNext(new(AnnounceHandler)).
		SetNext(new(InventoryHandler))
	return chain
}
