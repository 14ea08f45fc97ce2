package reports

const (
	SalesDashboard = "sales-dashboard"
	LifetimeValue  = "lifetime-value"
)

// The queries only use aggregates that PostgreSQL and SQLite share.
const salesDashboardSQL = `
SELECT
	COUNT(o.id)                   AS total_orders,
	COUNT(DISTINCT o.customer_id) AS active_customers,
	COALESCE(SUM(o.total), 0)     AS revenue,
	COALESCE(AVG(o.total), 0)     AS average_ticket,
	MAX(o.created_at)             AS last_order_at
FROM orders o
WHERE o.status <> 'cancelled'`

const lifetimeValueSQL = `
SELECT
	c.id                      AS customer_id,
	c.name                    AS customer_name,
	COUNT(o.id)               AS orders,
	COALESCE(SUM(o.total), 0) AS lifetime_value,
	MIN(o.created_at)         AS first_order_at,
	MAX(o.created_at)         AS last_order_at
FROM customers c
LEFT JOIN orders o ON o.customer_id = c.id AND o.status <> 'cancelled'
GROUP BY c.id, c.name
ORDER BY lifetime_value DESC, c.id`

// Builtin returns the reports compiled into the binary.
func Builtin() []Report {
	return []Report{
		{
			Name:        SalesDashboard,
			Path:        "/dashboard",
			Description: "Order count, revenue and average ticket across all non-cancelled orders",
			SQL:         salesDashboardSQL,
		},
		{
			Name:        LifetimeValue,
			Path:        "/ltv",
			Description: "Lifetime value per customer, highest first",
			SQL:         lifetimeValueSQL,
		},
	}
}
