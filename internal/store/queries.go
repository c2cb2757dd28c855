package store

// Inline SQL carries a --sql marker so every execution can be traced
// back to its query without shipping the statement text into logs.

const QEnsureLedgerTable = `--sql 3b6d3e6a-8f1c-4a7e-9a40-55c2f4f1a9d1
create table if not exists ledger_entries (
  seq         bigint primary key,
  occurred_at timestamptz not null,
  tx_type     text not null,
  amount      bigint not null,
  job_id      text,
  balance     bigint not null
);
`

const QEnsureEventsTable = `--sql c8a51b27-6e94-4f0b-a1d6-2b7e90cd44f8
create table if not exists engine_events (
  id          bigserial primary key,
  occurred_at timestamptz not null,
  event_type  text not null,
  run_id      text,
  scene_id    text,
  stage       text,
  detail      text,
  cycle       int,
  balance     bigint
);
`

const QInsertLedgerEntry = `--sql 9c0b7a44-2d15-47c8-b1e3-6f98d0a2c517
insert into ledger_entries(seq, occurred_at, tx_type, amount, job_id, balance)
values ($1::bigint, $2::timestamptz, $3::text, $4::bigint, nullif($5::text, ''), $6::bigint)
on conflict (seq) do nothing;
`

const QInsertEngineEvent = `--sql 71f2d9ee-4b03-4c6f-8d2a-0e46b7c81f33
insert into engine_events(occurred_at, event_type, run_id, scene_id, stage, detail, cycle, balance)
values (
  $1::timestamptz,
  $2::text,
  nullif($3::text, ''),
  nullif($4::text, ''),
  nullif($5::text, ''),
  nullif($6::text, ''),
  $7::int,
  $8::bigint
);
`
