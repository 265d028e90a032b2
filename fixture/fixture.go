// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package fixture loads Ethereum state-test style transaction fixtures and
// expands them into the messages of a batch.
package fixture

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Fantom-foundation/Panoptes/batch"
	"github.com/Fantom-foundation/Panoptes/journal"
	"github.com/Fantom-foundation/Panoptes/panoptes"
	"github.com/holiman/uint256"
)

// Fixture is the parsed form of one state-test document.
type Fixture struct {
	Transaction Transaction        `json:"transaction"`
	Pre         map[string]Account `json:"pre,omitempty"`
}

// Transaction describes a single transaction template. The data, gasLimit,
// and value lists are cartesian-expanded into instances.
type Transaction struct {
	Sender   string   `json:"sender"`
	To       string   `json:"to"`
	Nonce    string   `json:"nonce"`
	GasPrice string   `json:"gasPrice"`
	Data     []string `json:"data"`
	GasLimit []string `json:"gasLimit"`
	Value    []string `json:"value"`
}

// Account seeds one account of the base world.
type Account struct {
	Balance string            `json:"balance"`
	Nonce   string            `json:"nonce"`
	Code    string            `json:"code"`
	Storage map[string]string `json:"storage"`
}

// Load reads and parses a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return Parse(data)
}

// Parse parses a fixture document.
func Parse(data []byte) (*Fixture, error) {
	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if len(fixture.Transaction.Sender) == 0 {
		return nil, fmt.Errorf("fixture misses transaction sender")
	}
	return &fixture, nil
}

// World builds the base world seeded with the fixture's pre state.
func (f *Fixture) World() (journal.World, error) {
	world := journal.World{}
	for key, seed := range f.Pre {
		addr, err := parseAddress(key)
		if err != nil {
			return nil, fmt.Errorf("invalid account address %q: %w", key, err)
		}
		account := journal.Account{}
		if account.Balance, err = parseValue(seed.Balance); err != nil {
			return nil, fmt.Errorf("invalid balance of %q: %w", key, err)
		}
		if account.Nonce, err = parseUint64(seed.Nonce); err != nil {
			return nil, fmt.Errorf("invalid nonce of %q: %w", key, err)
		}
		if account.Code, err = parseBytes(seed.Code); err != nil {
			return nil, fmt.Errorf("invalid code of %q: %w", key, err)
		}
		if len(seed.Storage) > 0 {
			account.Storage = map[panoptes.Key]panoptes.Word{}
			for slot, value := range seed.Storage {
				parsedKey, err := parseValue(slot)
				if err != nil {
					return nil, fmt.Errorf("invalid storage key %q of %q: %w", slot, key, err)
				}
				parsedValue, err := parseValue(value)
				if err != nil {
					return nil, fmt.Errorf("invalid storage value %q of %q: %w", value, key, err)
				}
				account.Storage[panoptes.Key(parsedKey)] = panoptes.Word(parsedValue)
			}
		}
		world[addr] = account
	}
	return world, nil
}

// Messages expands the fixture into one message per data x gasLimit x value
// combination, with data as the outer loop, then gasLimit, then value.
func (f *Fixture) Messages() ([]batch.Message, error) {
	tx := f.Transaction

	sender, err := parseAddress(tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	var to *panoptes.Address
	if len(tx.To) > 0 {
		recipient, err := parseAddress(tx.To)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient: %w", err)
		}
		to = &recipient
	}
	nonce, err := parseUint64(tx.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	gasPrice, err := parseValue(tx.GasPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid gas price: %w", err)
	}

	messages := make([]batch.Message, 0, len(tx.Data)*len(tx.GasLimit)*len(tx.Value))
	for _, dataHex := range tx.Data {
		data, err := parseBytes(dataHex)
		if err != nil {
			return nil, fmt.Errorf("invalid data %q: %w", dataHex, err)
		}
		for _, gasHex := range tx.GasLimit {
			gasLimit, err := parseUint64(gasHex)
			if err != nil {
				return nil, fmt.Errorf("invalid gas limit %q: %w", gasHex, err)
			}
			for _, valueHex := range tx.Value {
				value, err := parseValue(valueHex)
				if err != nil {
					return nil, fmt.Errorf("invalid value %q: %w", valueHex, err)
				}
				messages = append(messages, batch.Message{
					Sender:   sender,
					To:       to,
					Nonce:    nonce,
					GasPrice: gasPrice,
					GasLimit: panoptes.Gas(gasLimit),
					Value:    value,
					Input:    data,
				})
			}
		}
	}
	return messages, nil
}

func stripPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

func parseAddress(s string) (addr panoptes.Address, err error) {
	data, err := hex.DecodeString(stripPrefix(s))
	if err != nil {
		return addr, err
	}
	if len(data) != len(addr) {
		return addr, fmt.Errorf("wanted %d bytes, got %d", len(addr), len(data))
	}
	copy(addr[:], data)
	return addr, nil
}

func parseBytes(s string) ([]byte, error) {
	s = stripPrefix(s)
	if len(s) == 0 {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func parseValue(s string) (panoptes.Value, error) {
	if len(stripPrefix(s)) == 0 {
		return panoptes.Value{}, nil
	}
	value, err := uint256.FromHex("0x" + strings.TrimLeft(stripPrefix(s), "0"))
	if err != nil {
		// uint256.FromHex rejects "0x"; a value of all zeroes is fine
		if stripPrefix(s) == strings.Repeat("0", len(stripPrefix(s))) {
			return panoptes.Value{}, nil
		}
		return panoptes.Value{}, err
	}
	return panoptes.ValueFromUint256(value), nil
}

func parseUint64(s string) (uint64, error) {
	value, err := parseValue(s)
	if err != nil {
		return 0, err
	}
	v := value.ToUint256()
	if !v.IsUint64() {
		return 0, fmt.Errorf("value %s exceeds 64 bits", s)
	}
	return v.Uint64(), nil
}
