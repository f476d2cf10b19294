// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identity

// AccountStatus is the lifecycle state of an Account.
type AccountStatus string

const (
	StatusEnabled    AccountStatus = "ENABLED"
	StatusDisabled   AccountStatus = "DISABLED"
	StatusUnverified AccountStatus = "UNVERIFIED"
)

// Account is the identity provider's user record.  Only Href is guaranteed to
// be stable; the expandable sub-resources are nil unless they were requested.
type Account struct {
	Href       string        `json:"href"`
	Username   string        `json:"username,omitempty"`
	Email      string        `json:"email,omitempty"`
	GivenName  string        `json:"givenName,omitempty"`
	MiddleName string        `json:"middleName,omitempty"`
	Surname    string        `json:"surname,omitempty"`
	FullName   string        `json:"fullName,omitempty"`
	Status     AccountStatus `json:"status"`

	CustomData   map[string]interface{} `json:"customData,omitempty"`
	Groups       []Group                `json:"groups,omitempty"`
	Directory    *Directory             `json:"directory,omitempty"`
	Tenant       *Tenant                `json:"tenant,omitempty"`
	ProviderData map[string]interface{} `json:"providerData,omitempty"`
}

// Enabled reports whether the account may be treated as authenticated.  A nil
// account is never enabled.
func (a *Account) Enabled() bool {
	return a != nil && a.Status == StatusEnabled
}

// InGroup reports whether the account is a member of the named group.  Groups
// must have been expanded for this to ever return true.
func (a *Account) InGroup(name string) bool {
	if a == nil {
		return false
	}
	for _, g := range a.Groups {
		if g.Name == name {
			return true
		}
	}
	return false
}

// Group is a named collection of accounts.
type Group struct {
	Href   string `json:"href"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Directory is the account store that owns an account.
type Directory struct {
	Href     string `json:"href"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// Tenant is the top level owner of every resource.
type Tenant struct {
	Href string `json:"href"`
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}
