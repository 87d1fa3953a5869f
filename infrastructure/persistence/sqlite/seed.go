package sqlite

import "fmt"

// seed installs the demo catalog and a small business dataset so a fresh
// install can answer queries and build a schema graph immediately. Inserts
// are idempotent.
func (s *Store) seed() error {
	statements := []string{
		`INSERT OR IGNORE INTO data_products (name, description, domain, schema_name, version) VALUES
			('Invoice',  'Billing documents with line items',   'sales',       'default', '1.0.0'),
			('Customer', 'Business partner master data',        'master_data', 'default', '1.0.0')`,

		`INSERT OR IGNORE INTO catalog_tables (schema_name, table_name, product_name, description) VALUES
			('default', 'Invoice',     'Invoice',  'Invoice headers'),
			('default', 'InvoiceItem', 'Invoice',  'Invoice line items'),
			('default', 'Customer',    'Customer', 'Customer master records')`,

		`INSERT OR IGNORE INTO catalog_columns
			(schema_name, table_name, column_name, data_type, label, semantic_tag, length, nullable, value_list_ref, primary_key, ordinal) VALUES
			('default', 'Invoice', 'id',            'INTEGER',  'Invoice Number',  'document_id',    0,  0, '',               1, 1),
			('default', 'Invoice', 'customer_id',   'INTEGER',  'Customer',        'business_partner',0, 0, '',               0, 2),
			('default', 'Invoice', 'amount',        'REAL',     'Gross Amount',    'amount',         0,  0, '',               0, 3),
			('default', 'Invoice', 'currency_code', 'TEXT',     'Currency',        'currency',       3,  0, 'vl_currencies',  0, 4),
			('default', 'Invoice', 'status',        'TEXT',     'Status',          'lifecycle_status',16, 0, 'vl_invoice_status', 0, 5),
			('default', 'Invoice', 'created_at',    'DATETIME', 'Created At',      'creation_date',  0,  0, '',               0, 6),
			('default', 'InvoiceItem', 'id',         'INTEGER', 'Item Id',         'document_id',    0,  0, '',               1, 1),
			('default', 'InvoiceItem', 'invoice_id', 'INTEGER', 'Invoice',         'parent_document',0,  0, '',               0, 2),
			('default', 'InvoiceItem', 'position',   'INTEGER', 'Position',        '',               0,  0, '',               0, 3),
			('default', 'InvoiceItem', 'material',   'TEXT',    'Material',        'material',       40, 0, '',               0, 4),
			('default', 'InvoiceItem', 'quantity',   'REAL',    'Quantity',        'quantity',       0,  0, '',               0, 5),
			('default', 'InvoiceItem', 'net_value',  'REAL',    'Net Value',       'amount',         0,  0, '',               0, 6),
			('default', 'Customer', 'id',      'INTEGER', 'Customer Number', 'business_partner', 0, 0, '',          1, 1),
			('default', 'Customer', 'name',    'TEXT',    'Name',            'display_name',    80, 0, '',          0, 2),
			('default', 'Customer', 'country', 'TEXT',    'Country',         'country',          2, 1, 'vl_countries', 0, 3),
			('default', 'Customer', 'segment', 'TEXT',    'Segment',         '',                16, 1, '',          0, 4)`,

		`INSERT OR IGNORE INTO catalog_associations
			(name, schema_name, source_table, target_table, kind, cardinality, cascade_delete, join_conditions) VALUES
			('_Items',    'default', 'Invoice', 'InvoiceItem', 'composition', 'many', 1,
			 '[{"left_field":"id","op":"=","right_entity":"InvoiceItem","right_field":"invoice_id"}]'),
			('_Customer', 'default', 'Invoice', 'Customer',    'association', 'one',  0,
			 '[{"left_field":"customer_id","op":"=","right_entity":"Customer","right_field":"id"}]')`,

		`INSERT OR IGNORE INTO Customer (id, name, country, segment) VALUES
			(1, 'Aurora Fabrication GmbH', 'DE', 'industrial'),
			(2, 'Baltic Retail Oy',        'FI', 'retail'),
			(3, 'Cervantes Logistics SL',  'ES', 'logistics')`,

		`INSERT OR IGNORE INTO Invoice (id, customer_id, amount, currency_code, status, created_at) VALUES
			(1001, 1, 12500.00, 'EUR', 'paid',    '2025-05-02 09:15:00'),
			(1002, 1,  8400.50, 'EUR', 'open',    '2025-06-11 14:02:00'),
			(1003, 2,  1999.90, 'EUR', 'open',    '2025-06-28 10:45:00'),
			(1004, 3, 43210.75, 'EUR', 'overdue', '2025-04-19 16:30:00')`,

		`INSERT OR IGNORE INTO InvoiceItem (id, invoice_id, position, material, quantity, net_value) VALUES
			(1, 1001, 10, 'MAT-STEEL-20', 40, 8000.00),
			(2, 1001, 20, 'MAT-COAT-NX',  12, 4500.00),
			(3, 1002, 10, 'MAT-STEEL-20', 42, 8400.50),
			(4, 1003, 10, 'SRV-SETUP',     1, 1999.90),
			(5, 1004, 10, 'MAT-ALU-7',   310, 43210.75)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}
	return nil
}
