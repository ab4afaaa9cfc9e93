package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"titledeed/internal/deed/models"
)

const (
	methodMintTitleDeed = "mintTitleDeed"
	methodGetTitleDeed  = "getTitleDeed"
)

// Contract is the deployed contract descriptor. It is loaded once at startup
// and never mutated afterwards.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// LoadContract reads <name>_address.json and <name>_abi.json from dir. The
// address file holds either a bare JSON string or an object with an
// "address" field.
func LoadContract(dir, name string) (*Contract, error) {
	addrRaw, err := os.ReadFile(filepath.Join(dir, name+"_address.json"))
	if err != nil {
		return nil, fmt.Errorf("read %s address: %w", name, err)
	}
	addr, err := parseAddressFile(addrRaw)
	if err != nil {
		return nil, fmt.Errorf("parse %s address: %w", name, err)
	}

	abiRaw, err := os.ReadFile(filepath.Join(dir, name+"_abi.json"))
	if err != nil {
		return nil, fmt.Errorf("read %s abi: %w", name, err)
	}
	parsed, err := parseABIFile(abiRaw)
	if err != nil {
		return nil, fmt.Errorf("parse %s abi: %w", name, err)
	}
	if _, ok := parsed.Methods[methodMintTitleDeed]; !ok {
		return nil, fmt.Errorf("%s abi has no %s method", name, methodMintTitleDeed)
	}
	return &Contract{Name: name, Address: addr, ABI: parsed}, nil
}

func parseAddressFile(raw []byte) (common.Address, error) {
	var bare string
	if err := json.Unmarshal(raw, &bare); err != nil {
		var obj struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return common.Address{}, err
		}
		bare = obj.Address
	}
	bare = strings.TrimSpace(bare)
	if !common.IsHexAddress(bare) {
		return common.Address{}, fmt.Errorf("invalid contract address %q", bare)
	}
	return common.HexToAddress(bare), nil
}

// parseABIFile accepts a bare ABI array or a build artifact with an "abi" field.
func parseABIFile(raw []byte) (abi.ABI, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(trimmed, &artifact); err != nil {
			return abi.ABI{}, err
		}
		trimmed = artifact.ABI
	}
	return abi.JSON(bytes.NewReader(trimmed))
}

// ContractCall is a packed-on-demand method invocation.
type ContractCall struct {
	Method string
	Args   []any
}

// MintTitleDeedCall builds the attestation call for a deed request. The
// argument order is fixed by the deployed contract.
func MintTitleDeedCall(req models.DeedRequest) ContractCall {
	app := req.Application
	return ContractCall{
		Method: methodMintTitleDeed,
		Args: []any{
			big.NewInt(app.UserID),
			req.DeedNumber.String(),
			app.FullName,
			app.LandCode,
			app.NationID,
			app.PhoneNumber,
			app.LandType,
			app.LandLayoutURL,
		},
	}
}

func (c *Contract) pack(call ContractCall) ([]byte, error) {
	data, err := c.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", call.Method, err)
	}
	return data, nil
}
