// Package fixture builds deterministic Arrow record batches for tests,
// the stress tool and the CLI's generate command.
package fixture
