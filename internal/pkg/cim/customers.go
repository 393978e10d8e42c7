package cim

import (
	"fmt"
	"iter"

	"github.com/ohowland/cgc_cim/internal/pkg/identity"
	"github.com/ohowland/cgc_cim/internal/pkg/relation"
)

// Organisation is a company or body taking part in the utility enterprise.
type Organisation struct {
	identity.Base
}

func NewOrganisation(mrid, name string) *Organisation {
	return &Organisation{Base: identity.NewBase(mrid, name)}
}

// OrganisationRole is a way an organisation participates, e.g. as a customer.
type OrganisationRole struct {
	identity.Base
	Organisation *Organisation
}

// Customer is an organisation receiving services.
type Customer struct {
	OrganisationRole
	Kind string
}

func NewCustomer(mrid, name string) *Customer {
	return &Customer{OrganisationRole: OrganisationRole{Base: identity.NewBase(mrid, name)}}
}

// PricingStructure groups the tariffs applied to an agreement.
type PricingStructure struct {
	identity.Base
	Code string
}

func NewPricingStructure(mrid, name string) *PricingStructure {
	return &PricingStructure{Base: identity.NewBase(mrid, name)}
}

// CustomerAgreement is the agreement between a customer and the supplier to
// pay for service at a location.
type CustomerAgreement struct {
	identity.Base
	Customer *Customer

	pricingStructures relation.Collection[*PricingStructure]
}

func NewCustomerAgreement(mrid, name string) *CustomerAgreement {
	ca := &CustomerAgreement{Base: identity.NewBase(mrid, name)}
	ca.pricingStructures = relation.ByMRID[*PricingStructure](ca.String())
	return ca
}

func (ca *CustomerAgreement) String() string {
	return fmt.Sprintf("CustomerAgreement{%s}", ca.MRID())
}

// NumPricingStructures returns the number of associated pricing structures.
func (ca *CustomerAgreement) NumPricingStructures() int {
	return ca.pricingStructures.Len()
}

// PricingStructures yields the associated pricing structures.
func (ca *CustomerAgreement) PricingStructures() iter.Seq[*PricingStructure] {
	return ca.pricingStructures.All()
}

// PricingStructure returns the associated pricing structure identified by mrid.
func (ca *CustomerAgreement) PricingStructure(mrid string) (*PricingStructure, error) {
	return ca.pricingStructures.Get(mrid)
}

// AddPricingStructure associates ps with the agreement.
func (ca *CustomerAgreement) AddPricingStructure(ps *PricingStructure) error {
	return ca.pricingStructures.Add(ps)
}

// RemovePricingStructure disassociates ps from the agreement.
func (ca *CustomerAgreement) RemovePricingStructure(ps *PricingStructure) error {
	return ca.pricingStructures.Remove(ps)
}

// ClearPricingStructures drops every association.
func (ca *CustomerAgreement) ClearPricingStructures() {
	ca.pricingStructures.Clear()
}

// HasPricingStructures is false both for agreements that never had pricing
// structures and for ones that had all of them removed.
func (ca *CustomerAgreement) HasPricingStructures() bool {
	return ca.pricingStructures.Allocated()
}
