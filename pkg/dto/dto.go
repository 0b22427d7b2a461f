// Package dto converts invocations into mementos: canonical JSON records of the
// member, target, arguments and outcome of a call.
package dto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/stateforward/go-invoke/embedded"
	"github.com/stateforward/go-invoke/ledger"
)

var ErrTampered = errors.New("memento digest does not match")

// Mementos implements embedded.Mementos with RFC 8785 canonical encoding.
type Mementos struct{}

func New() *Mementos {
	return &Mementos{}
}

func (mementos *Mementos) ToDto(action embedded.Action, target embedded.Object, arguments []embedded.Object) (*ledger.Memento, error) {
	memento := &ledger.Memento{
		Member:    action.Identifier(),
		Arguments: make([]ledger.Value, len(arguments)),
	}
	var err error
	if memento.Target, err = Encode(target); err != nil {
		return nil, fmt.Errorf("target of %s: %w", memento.Member, err)
	}
	for i, argument := range arguments {
		if memento.Arguments[i], err = Encode(argument); err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, memento.Member, err)
		}
	}
	if memento.Digest, err = Digest(memento); err != nil {
		return nil, err
	}
	return memento, nil
}

// UpdateResult records what the call returned or the error it raised.
func (mementos *Mementos) UpdateResult(memento *ledger.Memento, action embedded.Action, returned embedded.Object, threw error) error {
	if memento == nil {
		return nil
	}
	if threw != nil {
		memento.Threw = threw.Error()
		memento.Result = nil
		return nil
	}
	if returned == nil {
		return nil
	}
	value, err := Encode(returned)
	if err != nil {
		return fmt.Errorf("result of %s: %w", action.Identifier(), err)
	}
	memento.Result = &value
	return nil
}

// Encode serializes a managed object as canonical JSON.
func Encode(object embedded.Object) (ledger.Value, error) {
	if object == nil {
		return ledger.Value{Type: "nil"}, nil
	}
	data, err := canonical(object.Value())
	if err != nil {
		return ledger.Value{}, err
	}
	return ledger.Value{Type: object.Type(), Value: data}, nil
}

// Decode unmarshals a recorded value into target.
func Decode(value ledger.Value, target any) error {
	if len(value.Value) == 0 {
		return fmt.Errorf("decode %s: empty value", value.Type)
	}
	if err := json.Unmarshal(value.Value, target); err != nil {
		return fmt.Errorf("decode %s: %w", value.Type, err)
	}
	return nil
}

type request struct {
	Member    string         `json:"member"`
	Target    ledger.Value   `json:"target"`
	Arguments []ledger.Value `json:"arguments"`
}

// Digest hashes the request half of a memento: member, target and arguments.
func Digest(memento *ledger.Memento) (string, error) {
	data, err := canonical(request{Member: memento.Member, Target: memento.Target, Arguments: memento.Arguments})
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", memento.Member, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the digest of memento.
func Verify(memento *ledger.Memento) error {
	digest, err := Digest(memento)
	if err != nil {
		return err
	}
	if digest != memento.Digest {
		return fmt.Errorf("%s: %w", memento.Member, ErrTampered)
	}
	return nil
}

func canonical(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(data)
}
