package templates

import (
	"context"
	"fmt"
)

type seedTemplate struct {
	rawSQL  string
	comment string
}

// seedCatalog is the author-written starting set. Each entry is normalized
// and embedded on insert.
var seedCatalog = []seedTemplate{
	{
		rawSQL: `SELECT p.provider_name,
       pp.average_covered_charges,
       d.drg_description,
       p.provider_city,
       p.provider_state
FROM providers p
JOIN provider_procedures pp ON p.provider_id = pp.provider_id
JOIN drg_procedures d ON pp.drg_code = d.drg_code
WHERE d.drg_code = $1
  AND p.provider_state = $2
ORDER BY pp.average_covered_charges
LIMIT $3`,
		comment: "Cheapest providers for a DRG in a state",
	},
	{
		rawSQL: `SELECT p.provider_name,
       pr.overall_rating,
       p.provider_city,
       p.provider_state
FROM providers p
JOIN provider_ratings pr ON p.provider_id = pr.provider_id
WHERE p.provider_city ILIKE $1
ORDER BY pr.overall_rating DESC
LIMIT $2`,
		comment: "Highest-rated providers in a city",
	},
	{
		rawSQL: `SELECT p.provider_name,
       p.provider_city,
       p.provider_state,
       p.provider_zip_code
FROM providers p
WHERE p.provider_zip_code LIKE $1
LIMIT $2`,
		comment: "Providers near a ZIP-code prefix",
	},
	{
		rawSQL: `SELECT p.provider_name,
       pp.total_discharges,
       pp.average_covered_charges,
       d.drg_description
FROM providers p
JOIN provider_procedures pp ON p.provider_id = pp.provider_id
JOIN drg_procedures d ON pp.drg_code = d.drg_code
WHERE pp.drg_code = $1
ORDER BY pp.total_discharges DESC
LIMIT $2`,
		comment: "High-volume providers for a procedure",
	},
	{
		rawSQL: `SELECT p.provider_name,
       pp.average_covered_charges,
       pp.average_total_payments,
       pr.overall_rating,
       p.provider_city,
       p.provider_state
FROM providers p
JOIN provider_procedures pp ON p.provider_id = pp.provider_id
JOIN drg_procedures d ON pp.drg_code = d.drg_code
LEFT JOIN provider_ratings pr ON p.provider_id = pr.provider_id
WHERE d.drg_description ILIKE $1
  AND p.provider_state = $2
ORDER BY pp.average_covered_charges
LIMIT $3`,
		comment: "Providers by procedure description in a state",
	},
	{
		rawSQL: `SELECT p.provider_name,
       pp.average_covered_charges,
       pp.average_total_payments,
       pr.overall_rating,
       p.provider_city,
       p.provider_state
FROM providers p
JOIN provider_procedures pp ON p.provider_id = pp.provider_id
JOIN drg_procedures d ON pp.drg_code = d.drg_code
LEFT JOIN provider_ratings pr ON p.provider_id = pr.provider_id
WHERE d.drg_description ILIKE $1
  AND p.provider_state = $2
ORDER BY pp.average_covered_charges DESC
LIMIT $3`,
		comment: "Most expensive providers for a procedure by description in a state",
	},
	{
		rawSQL: `SELECT p.provider_name,
       pr.overall_rating,
       pr.quality_rating,
       pr.safety_rating,
       pr.patient_experience_rating,
       p.provider_city,
       p.provider_state
FROM providers p
JOIN provider_ratings pr ON p.provider_id = pr.provider_id
WHERE pr.overall_rating >= $1
  AND p.provider_state = $2
ORDER BY pr.overall_rating DESC
LIMIT $3`,
		comment: "Providers above rating threshold in a state",
	},
	{
		rawSQL: `SELECT p.provider_name,
       pr.overall_rating,
       pp.average_covered_charges,
       d.drg_description,
       p.provider_city,
       p.provider_state
FROM providers p
JOIN provider_procedures pp ON p.provider_id = pp.provider_id
JOIN drg_procedures d ON pp.drg_code = d.drg_code
JOIN provider_ratings pr ON p.provider_id = pr.provider_id
WHERE d.drg_description ILIKE $1
ORDER BY pr.overall_rating DESC
LIMIT $2`,
		comment: "Highest rated providers for a specific procedure",
	},
	{
		rawSQL: `SELECT d.drg_code,
       d.drg_description,
       COUNT(*) AS provider_count,
       AVG(pp.average_covered_charges) AS avg_cost
FROM drg_procedures d
JOIN provider_procedures pp ON d.drg_code = pp.drg_code
JOIN providers p ON pp.provider_id = p.provider_id
WHERE p.provider_state = $1
GROUP BY d.drg_code, d.drg_description
ORDER BY avg_cost
LIMIT $2`,
		comment: "Most affordable procedures in a state",
	},
	{
		rawSQL: `SELECT p.provider_name,
       pp.average_covered_charges,
       pp.average_medicare_payments,
       (pp.average_covered_charges - pp.average_medicare_payments) AS patient_cost,
       d.drg_description,
       p.provider_city,
       p.provider_state
FROM providers p
JOIN provider_procedures pp ON p.provider_id = pp.provider_id
JOIN drg_procedures d ON pp.drg_code = d.drg_code
WHERE pp.drg_code = $1
  AND p.provider_zip_code LIKE $2
ORDER BY patient_cost
LIMIT $3`,
		comment: "Lowest patient out-of-pocket providers for a procedure",
	},
	{
		rawSQL: `SELECT p.provider_name,
       COUNT(DISTINCT pp.drg_code) AS procedure_count,
       AVG(pr.overall_rating) AS avg_rating,
       p.provider_city,
       p.provider_state
FROM providers p
JOIN provider_procedures pp ON p.provider_id = pp.provider_id
LEFT JOIN provider_ratings pr ON p.provider_id = pr.provider_id
WHERE p.provider_city ILIKE $1
GROUP BY p.provider_id, p.provider_name, p.provider_city, p.provider_state
HAVING COUNT(DISTINCT pp.drg_code) >= $2
ORDER BY avg_rating DESC
LIMIT $3`,
		comment: "Multi-procedure providers in a city with good ratings",
	},
}

// Seed truncates the catalog and inserts the starting template set.
func (s *Store) Seed(ctx context.Context) (int, error) {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", catalogTable)); err != nil {
		return 0, fmt.Errorf("clear catalog: %w", err)
	}

	inserted := 0
	for _, tpl := range seedCatalog {
		if _, err := s.Insert(ctx, tpl.rawSQL, tpl.comment); err != nil {
			return inserted, fmt.Errorf("seed %q: %w", tpl.comment, err)
		}
		inserted++
	}
	return inserted, nil
}
