package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

var (
	scramSHA256 scram.HashGeneratorFcn = func() hash.Hash { return sha256.New() }
	scramSHA512 scram.HashGeneratorFcn = func() hash.Hash { return sha512.New() }
)

// scramClient bridges an xdg-go SCRAM conversation onto sarama's SASL
// hooks. Sarama constructs a fresh instance per broker connection, so
// conversation state is never shared across connections.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

var _ sarama.SCRAMClient = (*scramClient)(nil)

func (c *scramClient) Begin(userName, password, authzID string) (err error) {
	c.Client, err = c.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.ClientConversation = c.Client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}
