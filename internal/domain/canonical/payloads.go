package canonical

import "time"

type Account struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Industry      *string    `json:"industry,omitempty"`
	Tier          *string    `json:"tier,omitempty"`
	AnnualRevenue *float64   `json:"annual_revenue,omitempty"`
	EmployeeCount *int64     `json:"employee_count,omitempty"`
	Website       *string    `json:"website,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

func (Account) EntityName() Entity { return EntityAccount }
func (a Account) Key() string      { return a.ID }

type Contact struct {
	ID        string  `json:"id"`
	AccountID *string `json:"account_id,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Title     *string `json:"title,omitempty"`
}

func (Contact) EntityName() Entity { return EntityContact }
func (c Contact) Key() string      { return c.ID }

type Opportunity struct {
	ID          string     `json:"id"`
	AccountID   *string    `json:"account_id,omitempty"`
	Name        string     `json:"name,omitempty"`
	Stage       *string    `json:"stage,omitempty"`
	Amount      *float64   `json:"amount,omitempty"`
	Probability *float64   `json:"probability,omitempty"`
	CloseDate   *time.Time `json:"close_date,omitempty"`
}

func (Opportunity) EntityName() Entity { return EntityOpportunity }
func (o Opportunity) Key() string      { return o.ID }
