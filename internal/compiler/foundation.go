package compiler

// Foundation returns the shared SQL every generated action relies on: the
// app schema, the result type and its constructors, impact accumulation and
// best-effort event emission. It is idempotent and emitted once per
// generation, before any input type.
func Foundation() string {
	return foundationSQL
}

const foundationSQL = `CREATE SCHEMA IF NOT EXISTS app;

DO $$
BEGIN
    CREATE TYPE app.mutation_result AS (
        id UUID,
        status TEXT,
        code TEXT,
        message TEXT,
        data JSONB,
        impacts JSONB
    );
EXCEPTION
    WHEN duplicate_object THEN NULL;
END;
$$;

CREATE OR REPLACE FUNCTION app.mutation_failed(
    p_code TEXT,
    p_message TEXT
) RETURNS app.mutation_result
LANGUAGE sql IMMUTABLE
AS $$
    SELECT ROW(NULL::UUID, 'error', p_code, p_message, NULL::JSONB, '[]'::JSONB)::app.mutation_result
$$;

CREATE OR REPLACE FUNCTION app.mutation_succeeded(
    p_id UUID,
    p_data JSONB,
    p_impacts JSONB,
    p_code TEXT DEFAULT 'success',
    p_message TEXT DEFAULT NULL
) RETURNS app.mutation_result
LANGUAGE sql IMMUTABLE
AS $$
    SELECT ROW(p_id, 'success', p_code, p_message, p_data, COALESCE(p_impacts, '[]'::JSONB))::app.mutation_result
$$;

CREATE OR REPLACE FUNCTION app.add_impact(
    p_impacts JSONB,
    p_entity TEXT,
    p_operation TEXT,
    p_ids TEXT[]
) RETURNS JSONB
LANGUAGE sql IMMUTABLE
AS $$
    SELECT CASE
        WHEN p_ids IS NULL OR cardinality(p_ids) = 0 THEN COALESCE(p_impacts, '[]'::JSONB)
        ELSE COALESCE(p_impacts, '[]'::JSONB) || jsonb_build_array(jsonb_build_object(
            'entity', p_entity,
            'operation', p_operation,
            'ids', to_jsonb(p_ids)
        ))
    END
$$;

CREATE OR REPLACE FUNCTION app.emit_event(
    p_channel TEXT,
    p_payload JSONB
) RETURNS VOID
LANGUAGE plpgsql
AS $$
BEGIN
    PERFORM pg_notify(p_channel, COALESCE(p_payload, '{}'::JSONB)::TEXT);
EXCEPTION
    WHEN OTHERS THEN
        RAISE WARNING 'emit_event on % failed: %', p_channel, SQLERRM;
END;
$$;
`
