package blockgraph

import "github.com/threadchain/blockgraph/common"

// opsOutcome is the result of the block operations check.
type opsOutcome struct {
	kind   outcomeKind
	reason DiscardReason
	msg    string

	missing map[common.BlockID]struct{}

	dependencies          map[common.BlockID]struct{}
	blockLedgerChanges    []ThreadLedgerChanges
	rollUpdates           RollUpdates
	operationSet          OperationSet
	addressesToOperations map[common.Address]map[OperationID]struct{}
}

// checkOperations runs the per-block operation checks: reuse
// detection, ledger and roll state loading at the block's parents,
// reward/credit application, then per-operation ledger/roll effects.
func (g *BlockGraph) checkOperations(id common.BlockID, block *Block, hout headerOutcome) (opsOutcome, error) {
	T := int(g.cfg.ThreadCount)
	ownThread := block.Header.Slot.Thread
	parentIDs := make([]common.BlockID, T)
	for i, p := range hout.parents {
		parentIDs[i] = p.ID
	}

	dependencies := cloneIDSet(hout.deps)
	operationSet := make(OperationSet)
	ledgerInvolved := make(map[common.Address]struct{})
	rollInvolved := make(map[common.Address]struct{})

	for idx, op := range block.Operations {
		opThread := addressThread(op.Sender, uint32(T))

		if _, dup := operationSet[op.ID]; dup {
			return opsOutcomeInvalid("operation reused within validity window"), nil
		}
		missing, err := g.detectReuse(op, opThread, parentIDs[opThread], dependencies)
		if err != nil {
			if _, reused := err.(*reuseError); reused {
				return opsOutcomeInvalid("operation reused within validity window"), nil
			}
			return opsOutcome{}, err
		}
		if missing != nil {
			return opsOutcomeWaitFor(*missing), nil
		}
		operationSet[op.ID] = OpSetEntry{Index: idx, ValidityEndPeriod: op.ValidityEndPeriod}

		if addressThread(op.Sender, uint32(T)) == ownThread {
			ledgerInvolved[op.Sender] = struct{}{}
		}
		if addressThread(op.Recipient, uint32(T)) == ownThread {
			ledgerInvolved[op.Recipient] = struct{}{}
		}
		if addressThread(block.Header.Creator, uint32(T)) == ownThread {
			ledgerInvolved[block.Header.Creator] = struct{}{}
		}
		if (op.RollBuy > 0 || op.RollSell > 0) && opThread == ownThread {
			rollInvolved[op.Sender] = struct{}{}
		}
	}

	currentLedger, err := g.getLedgerAtParentsLocked(parentIDs, ledgerInvolved)
	if err != nil {
		return opsOutcome{}, err
	}

	blockCycle := g.cycleOf(block.Header.Slot.Period)
	rollCounts, _, err := g.rollDataAtParent(parentIDs[ownThread], rollInvolved, blockCycle)
	if err != nil {
		return opsOutcome{}, err
	}

	blockLedgerChanges := make([]ThreadLedgerChanges, T)
	for t := range blockLedgerChanges {
		blockLedgerChanges[t] = make(ThreadLedgerChanges)
	}
	rollUpdates := make(RollUpdates)

	ownParentAB := g.statuses[parentIDs[ownThread]].Active
	crossedCycle := g.cycleOf(ownParentAB.Block.Header.Slot.Period) != blockCycle

	// Block reward.
	creatorThread := addressThread(block.Header.Creator, uint32(T))
	rewardChange := LedgerChange{Amount: g.cfg.BlockReward, Sign: true}
	if err := blockLedgerChanges[creatorThread].chainInto(block.Header.Creator, rewardChange); err != nil {
		return opsOutcome{}, err
	}
	if creatorThread == ownThread {
		if err := creditLedger(currentLedger, block.Header.Creator, g.cfg.BlockReward); err != nil {
			return opsOutcome{}, err
		}
	}

	// Cycle-boundary roll-sell credits.
	if crossedCycle {
		for addr, amt := range g.pos.GetRollSellCredit(block.Header.Slot) {
			if addressThread(addr, uint32(T)) != ownThread {
				continue
			}
			if err := creditLedger(currentLedger, addr, amt); err != nil {
				return opsOutcome{}, err
			}
			if err := blockLedgerChanges[ownThread].chainInto(addr, LedgerChange{Amount: amt, Sign: true}); err != nil {
				return opsOutcome{}, err
			}
		}
	}

	addressesToOperations := make(map[common.Address]map[OperationID]struct{})
	addOpIndex := func(addr common.Address, opID OperationID) {
		m, ok := addressesToOperations[addr]
		if !ok {
			m = make(map[OperationID]struct{})
			addressesToOperations[addr] = m
		}
		m[opID] = struct{}{}
	}

	for _, op := range block.Operations {
		opThread := addressThread(op.Sender, uint32(T))
		addOpIndex(op.Sender, op.ID)
		addOpIndex(op.Recipient, op.ID)

		// Roll purchase/sale with compensation for overselling.
		owned := rollCounts[op.Sender]
		sell := op.RollSell
		compensated := uint64(0)
		if sell > owned {
			compensated = sell - owned
			sell = owned
		}
		rollCounts[op.Sender] = owned + op.RollBuy - sell
		update := RollUpdate{RollPurchases: op.RollBuy, RollSales: sell}
		rollUpdates.chainInto(op.Sender, update)

		if compensated > 0 {
			compAmt := Amount(compensated) * g.cfg.RollPrice
			if opThread == ownThread {
				if err := creditLedger(currentLedger, op.Sender, compAmt); err != nil {
					return opsOutcome{}, err
				}
			}
			if err := blockLedgerChanges[opThread].chainInto(op.Sender, LedgerChange{Amount: compAmt, Sign: true}); err != nil {
				return opsOutcome{}, err
			}
		}

		// Roll purchase debit: buying rolls
		// locks RollPrice per roll from the sender's own-thread
		// balance.
		if op.RollBuy > 0 {
			buyCost := Amount(op.RollBuy) * g.cfg.RollPrice
			if opThread == ownThread {
				if err := debitLedger(currentLedger, op.Sender, buyCost); err != nil {
					return opsOutcomeInvalid("insufficient balance for roll purchase"), nil
				}
			}
			if err := blockLedgerChanges[opThread].chainInto(op.Sender, LedgerChange{Amount: buyCost, Sign: false}); err != nil {
				return opsOutcome{}, err
			}
		}

		// Fee to creator.
		if op.Fee > 0 {
			if creatorThread == ownThread {
				if err := creditLedger(currentLedger, block.Header.Creator, op.Fee); err != nil {
					return opsOutcome{}, err
				}
			}
			if err := blockLedgerChanges[creatorThread].chainInto(block.Header.Creator, LedgerChange{Amount: op.Fee, Sign: true}); err != nil {
				return opsOutcome{}, err
			}
		}

		// Transaction debit/credit: the sender
		// pays amount plus fee even when the transfer amount is zero.
		totalDebit := op.Amount + op.Fee
		if totalDebit < op.Amount {
			return opsOutcomeInvalid("amount plus fee overflows"), nil
		}
		recipientThread := addressThread(op.Recipient, uint32(T))
		if totalDebit > 0 {
			if opThread == ownThread {
				if err := debitLedger(currentLedger, op.Sender, totalDebit); err != nil {
					return opsOutcomeInvalid("insufficient balance for transfer"), nil
				}
			}
			if err := blockLedgerChanges[opThread].chainInto(op.Sender, LedgerChange{Amount: totalDebit, Sign: false}); err != nil {
				return opsOutcome{}, err
			}
		}
		if op.Amount > 0 {
			if recipientThread == ownThread {
				if err := creditLedger(currentLedger, op.Recipient, op.Amount); err != nil {
					return opsOutcome{}, err
				}
			}
			if err := blockLedgerChanges[recipientThread].chainInto(op.Recipient, LedgerChange{Amount: op.Amount, Sign: true}); err != nil {
				return opsOutcome{}, err
			}
		}
	}

	return opsOutcome{
		kind:                  outcomeProceed,
		dependencies:          dependencies,
		blockLedgerChanges:    blockLedgerChanges,
		rollUpdates:           rollUpdates,
		operationSet:          operationSet,
		addressesToOperations: addressesToOperations,
	}, nil
}

// detectReuse walks ancestors of parent in opThread starting at
// parent, stopping once an ancestor's period drops below the
// operation's validity-start period; if any such ancestor's
// operation_set already contains op.ID, the operation (and block) is
// Invalid. Every walked ancestor is
// recorded into deps: the block's validity depends on having seen it.
func (g *BlockGraph) detectReuse(op Operation, opThread uint32, parent common.BlockID, deps map[common.BlockID]struct{}) (*common.BlockID, error) {
	cur := parent
	for {
		st, ok := g.statuses[cur]
		if !ok {
			id := cur
			return &id, nil
		}
		if st.Kind != StatusActive {
			id := cur
			return &id, nil
		}
		ab := st.Active
		if ab.Block.Header.Slot.Period < op.ValidityStartPeriod {
			return nil, nil
		}
		deps[cur] = struct{}{}
		if _, reused := ab.OperationSet[op.ID]; reused {
			return nil, &reuseError{opID: op.ID}
		}
		if ab.Parents == nil {
			// Genesis: nothing earlier to inspect.
			return nil, nil
		}
		cur = ab.Parents[opThread].ID
	}
}

type reuseError struct{ opID OperationID }

func (e *reuseError) Error() string { return "operation reused within validity window" }

func opsOutcomeWaitFor(id common.BlockID) opsOutcome {
	return opsOutcome{kind: outcomeWaitForDependencies, missing: map[common.BlockID]struct{}{id: {}}}
}

func opsOutcomeInvalid(msg string) opsOutcome {
	return opsOutcome{kind: outcomeDiscard, reason: DiscardInvalid, msg: msg}
}

func creditLedger(ledger map[common.Address]Amount, addr common.Address, amt Amount) error {
	sum := uint64(ledger[addr]) + uint64(amt)
	if sum < uint64(ledger[addr]) {
		return &InvalidLedgerChangeError{Msg: "credit overflow"}
	}
	ledger[addr] = Amount(sum)
	return nil
}

func debitLedger(ledger map[common.Address]Amount, addr common.Address, amt Amount) error {
	if ledger[addr] < amt {
		return &InvalidLedgerChangeError{Msg: "insufficient balance"}
	}
	ledger[addr] -= amt
	return nil
}
