// Copyright 2026 The stacks-signer Authors
// This file is part of stacks-signer.
//
// stacks-signer is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// stacks-signer is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with stacks-signer.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/stacks-network/stacks-signer/client/stackerdb"
	"github.com/stacks-network/stacks-signer/config"
	signerlog "github.com/stacks-network/stacks-signer/log"
	"github.com/stacks-network/stacks-signer/types"
)

func openSlots(c *cli.Context) (*stackerdb.Client, *config.Config, types.RewardCycle, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, 0, err
	}
	slots := stackerdb.New(cfg.NodeHost, cfg.StackerDBContractID, cfg.Identity, signerlog.Root())
	cycle := types.RewardCycle(c.Uint64("cycle"))
	slots.OpenCycle(cycle)
	return slots, cfg, cycle, nil
}

var cycleFlag = &cli.Uint64Flag{Name: "cycle", Required: true, Usage: "reward cycle the slot belongs to"}

var getChunkCommand = &cli.Command{
	Name:      "get-chunk",
	Usage:     "fetch one signer's latest transactions-slot chunk",
	ArgsUsage: "<signer-id>",
	Flags:     []cli.Flag{cycleFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("expected exactly one signer-id argument", 1)
		}
		var signerID uint32
		if _, err := fmt.Sscanf(c.Args().First(), "%d", &signerID); err != nil {
			return cli.Exit("signer-id must be an integer", 1)
		}
		slots, _, cycle, err := openSlots(c)
		if err != nil {
			return err
		}
		msgs, err := slots.FetchProtocolMessages(context.Background(), cycle, types.Transactions, []types.SignerId{types.SignerId(signerID)})
		if err != nil {
			return err
		}
		msg, ok := msgs[types.SignerId(signerID)]
		if !ok {
			fmt.Println("<empty>")
			return nil
		}
		for _, tx := range msg.Transactions {
			fmt.Println(hex.EncodeToString(tx))
		}
		return nil
	},
}

var getLatestChunkCommand = &cli.Command{
	Name:  "get-latest-chunk",
	Usage: "fetch the latest transaction bundle seen across every signer slot",
	Flags: []cli.Flag{cycleFlag, &cli.UintFlag{Name: "num-signers", Required: true}},
	Action: func(c *cli.Context) error {
		slots, _, cycle, err := openSlots(c)
		if err != nil {
			return err
		}
		txs, err := slots.GetChunks(context.Background(), cycle, allSlotIDs(c))
		if err != nil {
			return err
		}
		for _, tx := range txs {
			fmt.Println(hex.EncodeToString(tx))
		}
		return nil
	},
}

var listChunksCommand = &cli.Command{
	Name:  "list-chunks",
	Usage: "list each signer's current cached slot version",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "num-signers", Required: true},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		slots := stackerdb.New(cfg.NodeHost, cfg.StackerDBContractID, cfg.Identity, signerlog.Root())
		for id := uint32(0); id < uint32(c.Uint("num-signers")); id++ {
			slotID := types.SlotIDFor(types.SignerId(id), types.Transactions)
			fmt.Printf("signer %d slot %d version %d\n", id, slotID, slots.CachedVersion(types.Transactions, slotID))
		}
		return nil
	},
}

var putChunkCommand = &cli.Command{
	Name:      "put-chunk",
	Usage:     "write a hex-encoded transaction into this signer's own slot",
	ArgsUsage: "<hex-transaction>",
	Flags:     []cli.Flag{cycleFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("expected exactly one hex-transaction argument", 1)
		}
		tx, err := hex.DecodeString(c.Args().First())
		if err != nil {
			return cli.Exit("transaction must be hex-encoded", 1)
		}
		slots, cfg, cycle, err := openSlots(c)
		if err != nil {
			return err
		}
		msg := types.SignerMessage{Kind: types.Transactions, Transactions: [][]byte{tx}}
		payload := stackerdb.EncodeSignerMessage(msg)
		slotID := types.SlotIDFor(types.SignerId(cfg.SignerID), types.Transactions)
		ack, err := slots.SendWithRetry(context.Background(), cycle, slotID, msg, payload)
		if err != nil {
			return err
		}
		fmt.Printf("accepted: %v\n", ack.Accepted)
		return nil
	},
}

func allSlotIDs(c *cli.Context) []uint32 {
	n := c.Uint("num-signers")
	if n == 0 {
		n = 1
	}
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = types.SlotIDFor(types.SignerId(i), types.Transactions)
	}
	return ids
}
