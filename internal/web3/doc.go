// Package web3 houses ledger connectivity helpers: the deployments file that
// names the networks a pool and token live on, the go-ethereum adapter in
// the ethereum subpackage, and the provider that binds both into the
// exchange ledger context at start-up.
package web3
